package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPSIIdenticalDistributionIsZero(t *testing.T) {
	xs := make([]float64, 200)
	for i := range xs {
		xs[i] = float64(i % 50)
	}

	res := PSI(xs, xs, 10)
	assert.InDelta(t, 0, res.PSI, 1e-6)
	assert.Equal(t, "none", SeverityFromPSI(res.PSI))
}

func TestPSISeverityBands(t *testing.T) {
	assert.Equal(t, "none", SeverityFromPSI(0.1))
	assert.Equal(t, "moderate", SeverityFromPSI(0.25))
	assert.Equal(t, "severe", SeverityFromPSI(0.4))
}

func TestPSIDetectsShift(t *testing.T) {
	baseline := make([]float64, 200)
	current := make([]float64, 60)
	for i := range baseline {
		baseline[i] = 0.85 + float64(i%10)*0.001
	}
	for i := range current {
		current[i] = 0.65 + float64(i%10)*0.001
	}

	res := PSI(baseline, current, 10)
	assert.GreaterOrEqual(t, res.PSI, 0.35)
	assert.Equal(t, "severe", SeverityFromPSI(res.PSI))
}

func TestWasserstein1D(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 0.0, Wasserstein1D(a, b))

	c := []float64{11, 12, 13, 14, 15}
	assert.InDelta(t, 10, Wasserstein1D(a, c), 1e-9)
}

func TestWasserstein1DUnequalLengths(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	b := []float64{1, 10}
	assert.GreaterOrEqual(t, Wasserstein1D(a, b), 0.0)
}
