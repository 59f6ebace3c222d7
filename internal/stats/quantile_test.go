package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}

	tests := []struct {
		name string
		q    float64
		want float64
	}{
		{"min", 0, 1},
		{"max", 1, 5},
		{"median", 0.5, 3},
		{"q1", 0.25, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantile(xs, tt.q), 1e-9)
		})
	}
}

func TestQuantileEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Quantile(nil, 0.5))
}

func TestMeanVarianceStdDev(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(xs), 1e-9)
	assert.InDelta(t, 4.571428571, Variance(xs), 1e-6)
	assert.InDelta(t, 2.138089935, StdDev(xs), 1e-6)
}

func TestDegenerateReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, Variance([]float64{1}))
	assert.Equal(t, 0.0, StdDev(nil))
	assert.Equal(t, 0.0, Mean(nil))
}
