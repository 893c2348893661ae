package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestMeanAndVariance(t *testing.T) {
	assert.True(t, math.IsNaN(Mean(nil)))

	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	m := Mean(values)
	assert.InDelta(t, 5.0, m, 1e-12)
	// sum of squares 32 over n-1 = 7
	assert.InDelta(t, 32.0/7.0, Variance(values, m), 1e-12)
	assert.Equal(t, 0.0, Variance([]float64{3}, 3))
}

func TestConfidenceInterval95(t *testing.T) {
	_, _, ok := ConfidenceInterval95(seq(29, func(i int) float64 { return float64(i) }))
	assert.False(t, ok)

	values := seq(30, func(i int) float64 { return float64(i % 5) })
	low, high, ok := ConfidenceInterval95(values)
	require.True(t, ok)
	m := Mean(values)
	assert.Less(t, low, m)
	assert.Greater(t, high, m)

	se := math.Sqrt(Variance(values, m) / 30)
	assert.InDelta(t, m-Z95*se, low, 1e-12)
	assert.InDelta(t, m+Z95*se, high, 1e-12)
}

func TestConfidenceIntervalConstantSample(t *testing.T) {
	values := seq(40, func(int) float64 { return 1 })
	low, high, ok := ConfidenceInterval95(values)
	require.True(t, ok)
	assert.Equal(t, 1.0, low)
	assert.Equal(t, 1.0, high)
}

func TestWelchTTestInsufficient(t *testing.T) {
	_, err := WelchTTest([]float64{1}, []float64{1, 2}, 0.05)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestWelchTTestDetectsDifference(t *testing.T) {
	a := seq(200, func(i int) float64 { return 10 + float64(i%7) })
	b := seq(200, func(i int) float64 { return 14 + float64(i%7) })

	res, err := WelchTTest(a, b, 0.05)
	require.NoError(t, err)
	assert.True(t, res.Significant)
	assert.Less(t, res.TStatistic, 0.0)
	assert.Less(t, res.PValue, 0.001)
}

func TestWelchTTestSameDistribution(t *testing.T) {
	a := seq(200, func(i int) float64 { return float64(i % 10) })
	b := seq(200, func(i int) float64 { return float64((i + 3) % 10) })

	res, err := WelchTTest(a, b, 0.05)
	require.NoError(t, err)
	assert.False(t, res.Significant)
	assert.Greater(t, res.PValue, 0.5)
}

func TestWelchTTestZeroVariance(t *testing.T) {
	ones := seq(50, func(int) float64 { return 1 })
	zeros := seq(50, func(int) float64 { return 0 })

	res, err := WelchTTest(ones, zeros, 0.05)
	require.NoError(t, err)
	assert.True(t, res.Significant)
	assert.Equal(t, 0.0, res.PValue)

	res, err = WelchTTest(ones, ones, 0.05)
	require.NoError(t, err)
	assert.False(t, res.Significant)
	assert.Equal(t, 1.0, res.PValue)
}

func TestTDistributionPValueSmallDF(t *testing.T) {
	// Small samples must be more conservative than the normal tail.
	normal := 2 * (1 - NormalCDF(2.0))
	assert.Greater(t, tDistributionPValue(2.0, 5), normal)
	assert.Equal(t, 1.0, tDistributionPValue(2.0, 0))
}
