// Package metrics holds the Prometheus collectors of the experiment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Assignments counts variant assignments.
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_assignments_total",
		Help: "Total variant assignments by experiment and variant",
	}, []string{"experiment_id", "variant_id"})

	// Outcomes counts recorded outcomes by result (success, error, timeout).
	Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_outcomes_total",
		Help: "Total recorded outcomes by experiment, variant and result",
	}, []string{"experiment_id", "variant_id", "result"})

	// DuplicateOutcomes counts retries dropped by request id.
	DuplicateOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_duplicate_outcomes_total",
		Help: "Outcomes dropped because their request id was already recorded",
	}, []string{"experiment_id"})

	// ExecutionDuration tracks executor latency.
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "experiments_execution_duration_seconds",
		Help:    "Variant executor duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{"experiment_id", "variant_id"})

	// Transitions counts lifecycle transitions by target status.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_transitions_total",
		Help: "Lifecycle transitions by target status",
	}, []string{"status"})

	// Active is the number of non-archived experiments.
	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "experiments_active",
		Help: "Number of experiments in the active set",
	})

	// StoreErrors counts failed archive store writes.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "experiments_store_errors_total",
		Help: "Failed archive store writes by operation",
	}, []string{"operation"})

	// FeedSubscribers is the number of connected feed clients.
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "experiments_feed_subscribers",
		Help: "Connected live feed websocket clients",
	})
)

// Result labels for Outcomes.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
)
