package domain

import "time"

// Result is whatever a variant executor returns. Its shape is not validated
// beyond metric derivation.
type Result map[string]any

// Outcome is one recorded observation. Outcomes are immutable once appended.
type Outcome struct {
	ExperimentID string             `json:"experiment_id"`
	VariantID    string             `json:"variant_id"`
	Metrics      map[string]float64 `json:"metrics"`
	Timestamp    time.Time          `json:"timestamp"`
	SubjectID    string             `json:"subject_id,omitempty"`
	RequestID    string             `json:"request_id"`
}

// Metric returns the value of a metric and whether it was recorded.
func (o *Outcome) Metric(name string) (float64, bool) {
	v, ok := o.Metrics[name]
	return v, ok
}
