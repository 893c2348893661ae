// Package stats provides the large-sample statistics used by the experiment
// engine: means, unbiased variance, normal-approximation confidence intervals
// and Welch's two-sample t-test.
//
// All functions are stateless and safe for concurrent use.
package stats

import (
	"errors"
	"math"
)

// Z95 is the two-sided 95% normal critical value.
const Z95 = 1.96

// MinIntervalSamples is the smallest sample size for which a confidence
// interval is reported.
const MinIntervalSamples = 30

var (
	// ErrInsufficientSamples indicates not enough samples for analysis.
	ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")
)

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the unbiased (N-1) sample variance around mean.
func Variance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(values)-1)
}

// ConfidenceInterval95 returns mean ± 1.96·sqrt(var/n). ok is false below
// MinIntervalSamples; callers must read that as insufficient data.
func ConfidenceInterval95(values []float64) (low, high float64, ok bool) {
	if len(values) < MinIntervalSamples {
		return 0, 0, false
	}
	m := Mean(values)
	se := math.Sqrt(Variance(values, m) / float64(len(values)))
	margin := Z95 * se
	return m - margin, m + margin, true
}

// TTestResult holds the results of a t-test.
type TTestResult struct {
	TStatistic       float64
	PValue           float64
	DegreesOfFreedom float64
	Significant      bool
}

// WelchTTest compares the means of two samples without assuming equal
// variances. When both samples have zero variance the test degenerates:
// the samples are distinguishable exactly when their means differ.
func WelchTTest(a, b []float64, alpha float64) (*TTestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return nil, ErrInsufficientSamples
	}

	meanA, meanB := Mean(a), Mean(b)
	varA, varB := Variance(a, meanA), Variance(b, meanB)
	nA, nB := float64(len(a)), float64(len(b))

	se := math.Sqrt(varA/nA + varB/nB)
	if se == 0 {
		if meanA == meanB {
			return &TTestResult{PValue: 1}, nil
		}
		return &TTestResult{TStatistic: math.Inf(sign(meanA - meanB)), PValue: 0, Significant: true}, nil
	}

	t := (meanA - meanB) / se

	// Welch-Satterthwaite
	num := math.Pow(varA/nA+varB/nB, 2)
	denom := math.Pow(varA/nA, 2)/(nA-1) + math.Pow(varB/nB, 2)/(nB-1)
	df := math.Inf(1)
	if denom > 0 {
		df = num / denom
	}

	p := tDistributionPValue(math.Abs(t), df)
	return &TTestResult{
		TStatistic:       t,
		PValue:           p,
		DegreesOfFreedom: df,
		Significant:      p < alpha,
	}, nil
}

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// tDistributionPValue returns the two-tailed p-value for |t|. Large df use
// the normal distribution directly; small df map t onto z with
// z = t(1-1/4df)/sqrt(1+t²/2df).
func tDistributionPValue(t, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return 1
	}
	if df >= 30 {
		return clamp01(2 * (1 - NormalCDF(t)))
	}
	z := t * (1 - 1/(4*df)) / math.Sqrt(1+t*t/(2*df))
	return clamp01(2 * (1 - NormalCDF(z)))
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}
