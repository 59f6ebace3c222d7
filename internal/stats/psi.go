package stats

import (
	"math"
	"sort"
)

const psiEpsilon = 1e-6

// PSIResult is the Population Stability Index between a baseline and
// current population, along with the bin edges used.
type PSIResult struct {
	PSI   float64
	Edges []float64
}

// PSI computes the Population Stability Index between baseline and current
// samples using nBins quantile-derived bins from the baseline distribution.
// Bin edges are taken at nBins+1 quantile points of baseline and
// deduplicated; assignment is idx = max{i : edge_i <= x}, with the final
// bin closed on both sides. Each bin's contribution is
// (p_c - p_b)*ln(p_c/p_b) with an epsilon floor of 1e-6 on both
// proportions; PSI is the sum over bins.
func PSI(baseline, current []float64, nBins int) PSIResult {
	if len(baseline) == 0 || len(current) == 0 || nBins < 1 {
		return PSIResult{}
	}

	edges := quantileEdges(baseline, nBins)
	baseCounts := bucketCounts(baseline, edges)
	curCounts := bucketCounts(current, edges)

	nb := float64(len(baseline))
	nc := float64(len(current))

	var psi float64
	for i := range baseCounts {
		pb := float64(baseCounts[i]) / nb
		pc := float64(curCounts[i]) / nc
		if pb < psiEpsilon {
			pb = psiEpsilon
		}
		if pc < psiEpsilon {
			pc = psiEpsilon
		}
		psi += (pc - pb) * math.Log(pc/pb)
	}

	return PSIResult{PSI: psi, Edges: edges}
}

// quantileEdges returns nBins+1 quantile edges of xs, deduplicated.
func quantileEdges(xs []float64, nBins int) []float64 {
	edges := make([]float64, 0, nBins+1)
	seen := make(map[float64]bool)
	for i := 0; i <= nBins; i++ {
		q := float64(i) / float64(nBins)
		e := Quantile(xs, q)
		if !seen[e] {
			seen[e] = true
			edges = append(edges, e)
		}
	}
	sort.Float64s(edges)
	return edges
}

// bucketCounts assigns each x in xs to a bin using idx = max{i : edge_i<=x},
// with the last bin closed on both sides (x == max edge falls in the last
// bin rather than overflowing).
func bucketCounts(xs []float64, edges []float64) []int {
	nBins := len(edges) - 1
	if nBins < 1 {
		nBins = 1
	}
	counts := make([]int, nBins)
	lastEdge := edges[len(edges)-1]
	for _, x := range xs {
		idx := -1
		for i, e := range edges {
			if e <= x {
				idx = i
			} else {
				break
			}
		}
		if idx < 0 {
			idx = 0
		}
		if idx > nBins-1 {
			idx = nBins - 1
		}
		if x == lastEdge {
			idx = nBins - 1
		}
		counts[idx]++
	}
	return counts
}

// SeverityFromPSI maps a PSI value to the spec's severity band.
func SeverityFromPSI(psi float64) string {
	switch {
	case psi < 0.2:
		return "none"
	case psi < 0.35:
		return "moderate"
	default:
		return "severe"
	}
}
