// Package assign maps subjects to experiment variants deterministically.
package assign

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// Buckets is the modulus applied to the subject hash.
const Buckets = 10000

// Fraction returns the stable pseudo-random fraction in [0,1) for a subject
// within an experiment.
func Fraction(experimentKey, subjectKey string) float64 {
	h := xxhash.Sum64String(subjectKey + experimentKey)
	return float64(h%Buckets) / Buckets
}

// Variant picks the variant for a subject. Variants are walked in list order,
// accumulating their traffic fractions, and the first whose cumulative share
// reaches the subject fraction wins. Rounding shortfalls fall back to the
// first variant in the list, skipping variants with no traffic share.
func Variant(cfg *domain.ExperimentConfig, experimentKey, subjectKey string) string {
	if len(cfg.Variants) == 0 {
		return ""
	}
	fraction := Fraction(experimentKey, subjectKey)

	fallback := ""
	cumulative := 0.0
	for _, v := range cfg.Variants {
		share := cfg.TrafficSplit[v.ID]
		if share <= 0 {
			continue
		}
		if fallback == "" {
			fallback = v.ID
		}
		cumulative += share
		if fraction <= cumulative {
			return v.ID
		}
	}
	if fallback == "" {
		return cfg.Variants[0].ID
	}
	return fallback
}

// SubjectKey returns the subject id, or a fresh random key for anonymous
// callers so their assignment is not reproducible.
func SubjectKey(subjectID string) string {
	if subjectID != "" {
		return subjectID
	}
	return uuid.NewString()
}
