// Package ledger keeps the append-only outcome log of every experiment and
// the aggregation primitives computed over it.
package ledger

import (
	"fmt"
	"math"
	"sync"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/stats"
)

// Aggregate is the count and arithmetic mean of one metric for one variant.
// Mean is NaN when Count is zero.
type Aggregate struct {
	Count int
	Mean  float64
}

// Defined reports whether the mean is meaningful.
func (a Aggregate) Defined() bool { return a.Count > 0 }

// experimentLog is the outcome collection of a single experiment. Each log
// has its own lock so appends to different experiments never contend.
type experimentLog struct {
	mu        sync.RWMutex
	outcomes  []domain.Outcome
	seen      map[string]struct{}
	byVariant map[string][]int
}

// Ledger stores outcomes keyed by experiment id.
type Ledger struct {
	mu   sync.RWMutex
	logs map[string]*experimentLog
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{logs: make(map[string]*experimentLog)}
}

func (l *Ledger) log(experimentID string) *experimentLog {
	l.mu.RLock()
	el := l.logs[experimentID]
	l.mu.RUnlock()
	return el
}

func (l *Ledger) logOrCreate(experimentID string) *experimentLog {
	if el := l.log(experimentID); el != nil {
		return el
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if el := l.logs[experimentID]; el != nil {
		return el
	}
	el := &experimentLog{
		seen:      make(map[string]struct{}),
		byVariant: make(map[string][]int),
	}
	l.logs[experimentID] = el
	return el
}

// Append records an outcome in arrival order. It is idempotent on RequestID:
// a second outcome with an already seen request id is dropped and Append
// returns false.
func (l *Ledger) Append(o domain.Outcome) (bool, error) {
	if o.ExperimentID == "" {
		return false, fmt.Errorf("outcome experiment_id is required")
	}
	if o.RequestID == "" {
		return false, fmt.Errorf("outcome request_id is required")
	}
	if o.VariantID == "" {
		return false, fmt.Errorf("outcome variant_id is required")
	}

	metrics := make(map[string]float64, len(o.Metrics))
	for k, v := range o.Metrics {
		metrics[k] = v
	}
	o.Metrics = metrics

	el := l.logOrCreate(o.ExperimentID)
	el.mu.Lock()
	defer el.mu.Unlock()

	if _, dup := el.seen[o.RequestID]; dup {
		return false, nil
	}
	el.seen[o.RequestID] = struct{}{}
	el.byVariant[o.VariantID] = append(el.byVariant[o.VariantID], len(el.outcomes))
	el.outcomes = append(el.outcomes, o)
	return true, nil
}

// Outcomes returns a copy of the experiment's outcomes in arrival order.
func (l *Ledger) Outcomes(experimentID string) []domain.Outcome {
	el := l.log(experimentID)
	if el == nil {
		return []domain.Outcome{}
	}
	el.mu.RLock()
	defer el.mu.RUnlock()

	out := make([]domain.Outcome, len(el.outcomes))
	for i, o := range el.outcomes {
		out[i] = copyOutcome(o)
	}
	return out
}

// Len returns the total number of outcomes of an experiment.
func (l *Ledger) Len(experimentID string) int {
	el := l.log(experimentID)
	if el == nil {
		return 0
	}
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.outcomes)
}

// SampleSize returns the number of outcomes recorded for a variant.
func (l *Ledger) SampleSize(experimentID, variantID string) int {
	el := l.log(experimentID)
	if el == nil {
		return 0
	}
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.byVariant[variantID])
}

// Values returns every recorded value of a metric for a variant. Outcomes
// that did not record the metric are skipped.
func (l *Ledger) Values(experimentID, variantID, metric string) []float64 {
	el := l.log(experimentID)
	if el == nil {
		return nil
	}
	el.mu.RLock()
	defer el.mu.RUnlock()

	idx := el.byVariant[variantID]
	values := make([]float64, 0, len(idx))
	for _, i := range idx {
		if v, ok := el.outcomes[i].Metrics[metric]; ok {
			values = append(values, v)
		}
	}
	return values
}

// Aggregate returns the count and mean of a metric for a variant.
func (l *Ledger) Aggregate(experimentID, variantID, metric string) Aggregate {
	values := l.Values(experimentID, variantID, metric)
	if len(values) == 0 {
		return Aggregate{Mean: math.NaN()}
	}
	return Aggregate{Count: len(values), Mean: stats.Mean(values)}
}

// ConfidenceInterval returns the 95% normal-approximation interval of a
// metric's mean. ok is false below 30 observations, which means
// insufficient data and never a zero-width interval.
func (l *Ledger) ConfidenceInterval(experimentID, variantID, metric string) (domain.Interval, bool) {
	low, high, ok := stats.ConfidenceInterval95(l.Values(experimentID, variantID, metric))
	if !ok {
		return domain.Interval{}, false
	}
	return domain.Interval{Low: low, High: high}, true
}

func copyOutcome(o domain.Outcome) domain.Outcome {
	metrics := make(map[string]float64, len(o.Metrics))
	for k, v := range o.Metrics {
		metrics[k] = v
	}
	o.Metrics = metrics
	return o
}
