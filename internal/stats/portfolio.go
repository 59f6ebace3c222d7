package stats

import "math"

// DefaultAnnualization is the Sharpe annualization constant used for both
// daily and weekly horizons, per spec.md §9(iii) (preserved from the source
// implementation unless a caller passes an override).
const DefaultAnnualization = 252.0

// Pearson computes the Pearson correlation coefficient between xs and ys
// (equal length required). Returns 0 for mismatched lengths, n<2, or zero
// variance in either series.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n != len(ys) || n < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

// Sharpe returns mean/stddev * sqrt(annualization). Returns 0 for n<2 or
// zero stddev.
func Sharpe(xs []float64, annualization float64) float64 {
	sd := StdDev(xs)
	if sd == 0 {
		return 0
	}
	return Mean(xs) / sd * math.Sqrt(annualization)
}

// HitRate returns the fraction of xs strictly greater than 0.
func HitRate(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var hits int
	for _, x := range xs {
		if x > 0 {
			hits++
		}
	}
	return float64(hits) / float64(len(xs))
}

// Clamp01 clamps x to [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
