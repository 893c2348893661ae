// Package domain defines the core domain models for the experiment engine.
package domain

// ExperimentStatus represents the lifecycle state of an experiment.
type ExperimentStatus string

const (
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	// ExperimentStatusArchived is terminal; archived experiments leave the
	// active set and only their outcomes and final summary remain queryable.
	ExperimentStatusArchived ExperimentStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentStatusRunning, ExperimentStatusPaused, ExperimentStatusCompleted, ExperimentStatusArchived:
		return true
	}
	return false
}

// CanTransition is the built-in lifecycle rule. Nothing leaves completed
// except archival, and nothing leaves archived.
func CanTransition(from, to ExperimentStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case ExperimentStatusRunning:
		return to == ExperimentStatusPaused || to == ExperimentStatusCompleted || to == ExperimentStatusArchived
	case ExperimentStatusPaused:
		return to == ExperimentStatusRunning || to == ExperimentStatusCompleted || to == ExperimentStatusArchived
	case ExperimentStatusCompleted:
		return to == ExperimentStatusArchived
	}
	return false
}

// FeedEventType represents the type of a live feed message.
type FeedEventType string

const (
	FeedEventOutcome  FeedEventType = "outcome"
	FeedEventStatus   FeedEventType = "status"
	FeedEventArchived FeedEventType = "archived"
)

// SignificanceMode selects how per-variant significance is decided.
type SignificanceMode string

const (
	// SignificanceWelch requires the sample threshold and a Welch t-test
	// against every other variant.
	SignificanceWelch SignificanceMode = "welch"
	// SignificanceThreshold only requires the sample threshold.
	SignificanceThreshold SignificanceMode = "threshold"
)

// MissingMetricPolicy decides what happens when a configured metric is not
// derivable from an executor result.
type MissingMetricPolicy string

const (
	// MissingMetricRandom records a uniformly random placeholder in [0,1).
	MissingMetricRandom MissingMetricPolicy = "random"
	// MissingMetricSkip leaves the metric out of the outcome.
	MissingMetricSkip MissingMetricPolicy = "skip"
)

// Built-in metric names with a derivation rule.
const (
	MetricLatency      = "latency"
	MetricSuccessRate  = "successRate"
	MetricErrorRate    = "errorRate"
	MetricConfidence   = "confidence"
	MetricTokenCount   = "tokenCount"
	MetricQualityScore = "qualityScore"
)
