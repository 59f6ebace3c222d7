package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPearsonPerfectCorrelation(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := []float64{2, 4, 6, 8, 10}
	assert.InDelta(t, 1.0, Pearson(xs, ys), 1e-9)
}

func TestPearsonDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, Pearson([]float64{1, 2}, []float64{1, 2, 3}))
}

func TestSharpeAndHitRate(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.005, 0.015}
	assert.Greater(t, Sharpe(returns, DefaultAnnualization), 0.0)
	assert.Equal(t, 0.75, HitRate(returns))
	assert.Equal(t, 0.0, Sharpe([]float64{1, 1, 1}, DefaultAnnualization))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 1.0, Clamp01(2))
	assert.Equal(t, 0.5, Clamp01(0.5))
}
