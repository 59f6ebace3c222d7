package stats

import "sort"

// BHResult pairs an original p-value with its BH-adjusted q-value and
// significance verdict.
type BHResult struct {
	Index       int // index into the original input slice
	PValue      float64
	QValue      float64
	Significant bool
}

// BenjaminiHochberg applies the Benjamini-Hochberg procedure to m p-values,
// returning results in the original input order. For rank i (1-based, after
// sorting ascending) out of m: q_i = min(q_{i+1}, p_i * m / rank_i),
// computed from the largest rank down to enforce monotonicity of q against
// sorted p. significant = q <= alpha.
func BenjaminiHochberg(pvalues []float64, alpha float64) []BHResult {
	m := len(pvalues)
	results := make([]BHResult, m)
	if m == 0 {
		return results
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return pvalues[order[i]] < pvalues[order[j]]
	})

	q := make([]float64, m)
	minSoFar := 1.0
	for rank := m; rank >= 1; rank-- {
		idx := order[rank-1]
		p := pvalues[idx]
		candidate := p * float64(m) / float64(rank)
		if candidate < minSoFar {
			minSoFar = candidate
		}
		if minSoFar > 1 {
			minSoFar = 1
		}
		q[idx] = minSoFar
	}

	for i := 0; i < m; i++ {
		results[i] = BHResult{
			Index:       i,
			PValue:      pvalues[i],
			QValue:      q[i],
			Significant: q[i] <= alpha,
		}
	}
	return results
}
