package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQualityScoreAllPresent(t *testing.T) {
	n := NormalizedMetrics{
		FaithfulnessNorm:  f(1.0),
		CoverageNorm:      f(1.0),
		ConfidenceNorm:    f(1.0),
		HallucinationNorm: f(1.0),
		LatencyNorm:       f(1.0),
	}
	score := RunQualityScore(n, DefaultQualityWeights())
	require.NotNil(t, score)
	assert.InDelta(t, 1.0, *score, 1e-9)
}

func TestRunQualityScoreNoneReturnsNil(t *testing.T) {
	score := RunQualityScore(NormalizedMetrics{}, DefaultQualityWeights())
	assert.Nil(t, score)
}

func TestRunQualityScorePartialRenormalizes(t *testing.T) {
	n := NormalizedMetrics{FaithfulnessNorm: f(0.5)}
	score := RunQualityScore(n, DefaultQualityWeights())
	require.NotNil(t, score)
	assert.InDelta(t, 0.5, *score, 1e-9)
}

func TestRunQualityScoreInBounds(t *testing.T) {
	n := NormalizedMetrics{
		FaithfulnessNorm: f(0.3),
		CoverageNorm:     f(0.8),
		LatencyNorm:      f(0.1),
	}
	score := RunQualityScore(n, DefaultQualityWeights())
	require.NotNil(t, score)
	assert.GreaterOrEqual(t, *score, 0.0)
	assert.LessOrEqual(t, *score, 1.0)
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 0.0, RiskScore(NormalizedMetrics{FaithfulnessNorm: f(1), HallucinationNorm: f(1)}))
	assert.Equal(t, 1.0, RiskScore(NormalizedMetrics{FaithfulnessNorm: f(0), HallucinationNorm: f(1)}))
	assert.Equal(t, 0.0, RiskScore(NormalizedMetrics{}))
}

func TestShrinkage(t *testing.T) {
	alpha := ShrinkageAlpha(50, ShrinkageK)
	assert.InDelta(t, 0.5, alpha, 1e-9)

	est := ShrunkEstimate(1.0, 0, DefaultShrinkagePrior)
	assert.InDelta(t, DefaultShrinkagePrior, est, 1e-9)
}
