package domain

import "time"

// Interval is a closed confidence interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains reports whether v lies within the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Low && v <= i.High
}

// VariantSummary is the per-variant part of an analysis.
type VariantSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	SampleSize int    `json:"sample_size"`
	// Metrics holds per-metric means; metrics without observations are absent.
	Metrics map[string]float64 `json:"metrics"`
	// ConfidenceIntervals only holds metrics with at least 30 observations.
	ConfidenceIntervals map[string]Interval `json:"confidence_intervals"`
	Significance        map[string]bool     `json:"statistical_significance"`
	PValues             map[string]float64  `json:"p_values,omitempty"`
}

// AnalysisSummary is derived from the outcomes of one experiment at query time.
type AnalysisSummary struct {
	ExperimentID    string           `json:"experiment_id"`
	Name            string           `json:"name"`
	Status          ExperimentStatus `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	Variants        []VariantSummary `json:"variants"`
	Winner          string           `json:"winner,omitempty"`
	Recommendations []string         `json:"recommendations"`
}

// VariantByID returns the summary for a variant.
func (s *AnalysisSummary) VariantByID(id string) (VariantSummary, bool) {
	for _, v := range s.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return VariantSummary{}, false
}
