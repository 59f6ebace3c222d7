package normalize

// RawMetrics are the as-reported metrics from an AgentRunCompleted event.
// Pointer fields are nil when the metric is absent from the payload.
type RawMetrics struct {
	LatencyMs         *float64
	Faithfulness      *float64
	HallucinationFlag *bool
	Coverage          *float64
	Confidence        *float64
}

// NormalizedMetrics are the [0,1]-clamped normalized forms of RawMetrics.
// Nil means the source metric was missing.
type NormalizedMetrics struct {
	LatencyNorm        *float64
	FaithfulnessNorm   *float64
	HallucinationNorm  *float64
	CoverageNorm       *float64
	ConfidenceNorm     *float64
}

// Normalize converts raw metrics into their normalized [0,1] forms per
// spec.md §4.2: 0-1 metrics are clamped, missing maps to nil;
// hallucination_norm is 1 when the flag is false, 0 when true, nil when
// missing; latency uses the log-scaled target-based normalization.
func Normalize(raw RawMetrics, cfg ResolvedConfig) NormalizedMetrics {
	var out NormalizedMetrics

	if raw.LatencyMs != nil {
		v := LatencyNorm(*raw.LatencyMs, cfg.LatencyP99TargetMS)
		out.LatencyNorm = &v
	}
	if raw.Faithfulness != nil {
		v := clamp01Ptr(*raw.Faithfulness)
		out.FaithfulnessNorm = &v
	}
	if raw.Coverage != nil {
		v := clamp01Ptr(*raw.Coverage)
		out.CoverageNorm = &v
	}
	if raw.Confidence != nil {
		v := clamp01Ptr(*raw.Confidence)
		out.ConfidenceNorm = &v
	}
	if raw.HallucinationFlag != nil {
		var v float64
		if !*raw.HallucinationFlag {
			v = 1
		}
		out.HallucinationNorm = &v
	}

	return out
}

func clamp01Ptr(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
