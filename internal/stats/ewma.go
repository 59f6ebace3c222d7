package stats

// EWMA computes the exponentially weighted moving average series for xs
// with smoothing factor lambda: e_0 = x_0, e_i = lambda*x_i + (1-lambda)*e_{i-1}.
// Returns an empty slice for empty input.
func EWMA(xs []float64, lambda float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = lambda*xs[i] + (1-lambda)*out[i-1]
	}
	return out
}

// CUSUMResult holds the two-sided CUSUM series and whether it signaled.
type CUSUMResult struct {
	SPlus    []float64
	SMinus   []float64
	Signaled bool
	// SignalIndex is the first index (0-based) at which S+ > h or |S-| > h,
	// or -1 if no signal occurred.
	SignalIndex int
}

// CUSUM computes the two-sided cumulative-sum change-point statistic on
// deviations from target mu with slack k and decision threshold h:
//
//	S+_i = max(0, S+_{i-1} + (x_i - mu - k))
//	S-_i = min(0, S-_{i-1} + (x_i - mu + k))
//
// A signal fires at the first index where S+ > h or |S-| > h.
func CUSUM(xs []float64, mu, k, h float64) CUSUMResult {
	n := len(xs)
	res := CUSUMResult{
		SPlus:       make([]float64, n),
		SMinus:      make([]float64, n),
		SignalIndex: -1,
	}
	var sPlus, sMinus float64
	for i, x := range xs {
		sPlus += x - mu - k
		if sPlus < 0 {
			sPlus = 0
		}
		sMinus += x - mu + k
		if sMinus > 0 {
			sMinus = 0
		}
		res.SPlus[i] = sPlus
		res.SMinus[i] = sMinus

		if !res.Signaled && (sPlus > h || -sMinus > h) {
			res.Signaled = true
			res.SignalIndex = i
		}
	}
	return res
}
