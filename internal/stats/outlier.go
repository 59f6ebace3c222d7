package stats

import "math"

// MAD returns the median absolute deviation of xs from their median.
func MAD(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	med := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return Median(devs)
}

// RobustZ returns the robust z-score of x against the sample xs:
// 0.6745*(x-median)/MAD. Defined as 0 when MAD is 0.
func RobustZ(x float64, xs []float64) float64 {
	mad := MAD(xs)
	if mad == 0 {
		return 0
	}
	return 0.6745 * (x - Median(xs)) / mad
}

// ZScore returns the conventional z-score of x against sample mean/stddev of
// xs. Defined as 0 when stddev is 0.
func ZScore(x float64, xs []float64) float64 {
	sd := StdDev(xs)
	if sd == 0 {
		return 0
	}
	return (x - Mean(xs)) / sd
}

// IQRBounds returns the [lower, upper] Tukey fence bounds for xs using
// multiplier k (default 1.5 per spec; caller supplies it explicitly).
func IQRBounds(xs []float64, k float64) (lower, upper float64) {
	q1 := Quantile(xs, 0.25)
	q3 := Quantile(xs, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// IsMADOutlier reports whether x is a MAD/robust-z outlier of xs at the
// given threshold, returning the computed z-score alongside the verdict.
func IsMADOutlier(x float64, xs []float64, threshold float64) (outlier bool, z float64) {
	z = RobustZ(x, xs)
	return math.Abs(z) > threshold, z
}
