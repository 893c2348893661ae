package service

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// deriveMetrics turns an executor result into the configured metric values.
//
// Built-ins: latency (ms), successRate (non-empty result), errorRate,
// confidence, tokenCount (result "tokens") and qualityScore
// (confidence*0.8, plus 0.2 when the output is longer than 50 characters).
// Snake-case spellings are accepted. Any other name is read from the result;
// when absent the missing-metric policy applies.
func (s *Service) deriveMetrics(names []string, result domain.Result, latency time.Duration) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		switch name {
		case domain.MetricLatency:
			out[name] = millis(latency)
		case domain.MetricSuccessRate, "success_rate":
			out[name] = boolFloat(succeeded(result))
		case domain.MetricErrorRate, "error_rate":
			out[name] = 0
		case domain.MetricConfidence:
			out[name], _ = lookup(result, "confidence")
		case domain.MetricTokenCount, "token_count":
			v, ok := lookup(result, "tokens")
			if !ok {
				v, _ = lookup(result, name)
			}
			out[name] = v
		case domain.MetricQualityScore, "quality_score":
			confidence, _ := lookup(result, "confidence")
			score := confidence * 0.8
			if output, ok := result["output"].(string); ok && len(output) > 50 {
				score += 0.2
			}
			out[name] = score
		default:
			if v, ok := lookup(result, name); ok {
				out[name] = v
			} else if s.config.MissingMetricPolicy != domain.MissingMetricSkip {
				out[name] = s.random()
			}
		}
	}
	return out
}

// failureMetrics records a failed execution: the elapsed latency, a zero
// success rate and, when tracked, an error rate of one.
func failureMetrics(names []string, latency time.Duration) map[string]float64 {
	out := map[string]float64{
		domain.MetricLatency:     millis(latency),
		domain.MetricSuccessRate: 0,
	}
	for _, name := range names {
		switch name {
		case "success_rate":
			out[name] = 0
		case domain.MetricErrorRate, "error_rate":
			out[name] = 1
		}
	}
	return out
}

// succeeded reports whether a result counts as non-empty. When the result
// carries an output field, that field decides.
func succeeded(result domain.Result) bool {
	if len(result) == 0 {
		return false
	}
	output, ok := result["output"]
	if !ok {
		return true
	}
	switch v := output.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	}
	return true
}

// lookup reads a numeric field from a result. Numbers, numeric strings,
// json.Number and booleans convert; NaN and infinities do not.
func lookup(result domain.Result, key string) (float64, bool) {
	raw, ok := result[key]
	if !ok {
		return 0, false
	}
	v, ok := toFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		return boolFloat(n), true
	}
	return 0, false
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
