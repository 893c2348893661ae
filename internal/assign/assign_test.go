package assign

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

func twoWay(a, b float64) *domain.ExperimentConfig {
	return &domain.ExperimentConfig{
		Name:         "checkout-copy",
		Variants:     []domain.Variant{{ID: "A"}, {ID: "B"}},
		TrafficSplit: map[string]float64{"A": a, "B": b},
	}
}

func TestFractionRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		f := Fraction("exp_1", fmt.Sprintf("user-%d", i))
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}

func TestVariantIsStable(t *testing.T) {
	cfg := twoWay(0.5, 0.5)
	for i := 0; i < 200; i++ {
		subject := fmt.Sprintf("user-%d", i)
		first := Variant(cfg, "exp_1", subject)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, Variant(cfg, "exp_1", subject))
		}
	}
}

func TestVariantBalance(t *testing.T) {
	cfg := twoWay(0.5, 0.5)
	counts := map[string]int{}
	const n = 100000
	for i := 0; i < n; i++ {
		counts[Variant(cfg, "exp_balance", fmt.Sprintf("subject-%d", i))]++
	}

	require.Len(t, counts, 2)
	for id, c := range counts {
		diff := math.Abs(float64(c) - n/2)
		assert.LessOrEqualf(t, diff, 0.02*n/2, "variant %s got %d assignments", id, c)
	}
}

func TestVariantRespectsZeroShare(t *testing.T) {
	cfg := twoWay(0, 1)
	for i := 0; i < 500; i++ {
		assert.Equal(t, "B", Variant(cfg, "exp_1", fmt.Sprintf("u%d", i)))
	}
}

func TestVariantShortfallGoesToFirstVariant(t *testing.T) {
	// {A:0.495, B:0.5} sums to 0.995 and leaves a gap at the top of the range.
	cfg := twoWay(0.495, 0.5)
	a := 0.495
	b := a + 0.5
	gap := 0
	for i := 0; i < 200000; i++ {
		subject := fmt.Sprintf("u%d", i)
		f := Fraction("exp_1", subject)
		got := Variant(cfg, "exp_1", subject)
		switch {
		case f > b:
			gap++
			assert.Equal(t, "A", got)
		case f > a:
			assert.Equal(t, "B", got)
		default:
			assert.Equal(t, "A", got)
		}
	}
	assert.Greater(t, gap, 0)
}

func TestVariantShortfallSkipsZeroShare(t *testing.T) {
	cfg := twoWay(0, 0.995)
	for i := 0; i < 500; i++ {
		assert.Equal(t, "B", Variant(cfg, "exp_1", fmt.Sprintf("u%d", i)))
	}

	cfg = twoWay(0, 0)
	assert.Equal(t, "A", Variant(cfg, "exp_1", "u1"))
}

func TestVariantUsesListOrder(t *testing.T) {
	cfg := &domain.ExperimentConfig{
		Variants:     []domain.Variant{{ID: "C"}, {ID: "A"}, {ID: "B"}},
		TrafficSplit: map[string]float64{"A": 0.2, "B": 0.3, "C": 0.5},
	}
	c := 0.5
	a := c + 0.2
	for i := 0; i < 500; i++ {
		subject := fmt.Sprintf("u%d", i)
		f := Fraction("exp_order", subject)
		got := Variant(cfg, "exp_order", subject)
		switch {
		case f <= c:
			assert.Equal(t, "C", got)
		case f <= a:
			assert.Equal(t, "A", got)
		default:
			assert.Equal(t, "B", got)
		}
	}
}

func TestSubjectKey(t *testing.T) {
	assert.Equal(t, "user-1", SubjectKey("user-1"))
	a, b := SubjectKey(""), SubjectKey("")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
