// Package normalize implements per-workflow metric normalization and the
// weighted quality/risk aggregation described in spec.md §4.2 (C2).
package normalize

import (
	"math"

	"dario.cat/mergo"

	"github.com/codeready-toolchain/evalpipeline/internal/stats"
)

// QualityWeights weights the composite run_quality_score.
type QualityWeights struct {
	Faithfulness   float64 `json:"faithfulness"`
	Coverage       float64 `json:"coverage"`
	Confidence     float64 `json:"confidence"`
	Hallucination  float64 `json:"hallucination"`
	Latency        float64 `json:"latency"`
}

// DefaultQualityWeights sum to 1.0, matching spec.md §4.2's default table.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Faithfulness:  0.35,
		Coverage:      0.2,
		Confidence:    0.15,
		Hallucination: 0.2,
		Latency:       0.1,
	}
}

// WorkflowConfig is a per-workflow normalization override. Zero-value fields
// are left unset so a shallow merge over the global default only overrides
// what the workflow actually specifies.
type WorkflowConfig struct {
	LatencyP99TargetMS float64         `json:"latency_p99_target_ms,omitempty"`
	QualityWeights      *QualityWeights `json:"quality_weights,omitempty"`
}

// ResolvedConfig is the fully-resolved normalization config for one
// workflow, after merging its override onto the global default.
type ResolvedConfig struct {
	LatencyP99TargetMS float64
	QualityWeights      QualityWeights
}

// DefaultConfig returns the global default normalization config (target
// latency 5000ms, default quality weights).
func DefaultConfig() ResolvedConfig {
	return ResolvedConfig{
		LatencyP99TargetMS: 5000,
		QualityWeights:     DefaultQualityWeights(),
	}
}

// Resolve shallow-merges a workflow override onto the global default using
// dario.cat/mergo, matching the teacher's agent-config merge pattern
// (pkg/config/merge.go): the workflow's non-zero fields win, everything else
// falls back to the default.
func Resolve(global ResolvedConfig, override *WorkflowConfig) (ResolvedConfig, error) {
	resolved := global
	if override == nil {
		return resolved, nil
	}
	if override.LatencyP99TargetMS > 0 {
		resolved.LatencyP99TargetMS = override.LatencyP99TargetMS
	}
	if override.QualityWeights != nil {
		merged := *override.QualityWeights
		if err := mergo.Merge(&merged, global.QualityWeights); err != nil {
			return ResolvedConfig{}, err
		}
		resolved.QualityWeights = merged
	}
	return resolved, nil
}

// LatencyNorm computes the log-scaled latency normalization described in
// spec.md §4.2: clamp01(1 - log1p(max(0,latencyMs)) / log1p(max(1,target))).
func LatencyNorm(latencyMs float64, targetMs float64) float64 {
	num := math.Log1p(math.Max(0, latencyMs))
	den := math.Log1p(math.Max(1, targetMs))
	return stats.Clamp01(1 - num/den)
}
