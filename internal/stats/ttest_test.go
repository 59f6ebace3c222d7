package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelchSensitivity(t *testing.T) {
	a := make([]float64, 50)
	b := make([]float64, 50)
	for i := range a {
		a[i] = 1.0
		b[i] = 0.5
	}

	res := Welch(a, b)
	require.NotNil(t, res)
	assert.InDelta(t, 0.5, res.EffectSize, 1e-9)
	assert.Less(t, res.PValue, 1e-3)
	assert.Equal(t, 50, res.NA)
	assert.Equal(t, 50, res.NB)
}

func TestWelchDegenerateSameMeanZeroVariance(t *testing.T) {
	a := []float64{1, 1, 1}
	b := []float64{1, 1, 1}
	res := Welch(a, b)
	assert.Equal(t, 0.0, res.T)
	assert.Equal(t, 1.0, res.PValue)
}

func TestWelchDegenerateDifferentMeanZeroVariance(t *testing.T) {
	a := []float64{1, 1, 1}
	b := []float64{2, 2, 2}
	res := Welch(a, b)
	assert.True(t, math.IsInf(res.T, 1))
	assert.Equal(t, 0.0, res.PValue)
}

func TestWelchRequiresTwoPerGroup(t *testing.T) {
	res := Welch([]float64{1}, []float64{1, 2})
	assert.Equal(t, WelchResult{NA: 1, NB: 2}, res)
}

func TestErfAccuracy(t *testing.T) {
	// math.Erf is the reference stdlib implementation.
	for _, x := range []float64{-4, -2, -1, -0.5, 0, 0.5, 1, 2, 4} {
		got := erf(x)
		want := math.Erf(x)
		assert.InDelta(t, want, got, 1.5e-7)
	}
}

func TestTStatOfMean(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	assert.Greater(t, TStatOfMean(xs), 0.0)
	assert.Equal(t, 0.0, TStatOfMean([]float64{1}))
	assert.Equal(t, 0.0, TStatOfMean([]float64{1, 1, 1}))
}
