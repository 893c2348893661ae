// Package registry is the in-memory store of experiment definitions and their
// lifecycle state.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// TransitionPolicy decides whether a lifecycle transition is allowed.
type TransitionPolicy interface {
	AllowTransition(ctx context.Context, from, to domain.ExperimentStatus) (bool, string, error)
}

type entry struct {
	mu       sync.Mutex
	record   domain.ExperimentRecord
	archived bool
}

// Registry holds the active experiments. The map lock only guards membership;
// every mutation of a record happens under that record's own lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	policy TransitionPolicy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy sets the transition policy. Without one the built-in
// domain.CanTransition rule applies.
func WithPolicy(p TransitionPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates cfg and registers it as a running experiment.
func (r *Registry) Create(cfg domain.ExperimentConfig) (domain.ExperimentRecord, error) {
	if err := Validate(&cfg); err != nil {
		return domain.ExperimentRecord{}, err
	}
	now := r.now()
	rec := domain.ExperimentRecord{
		ID:        "exp_" + uuid.New().String(),
		Config:    cfg.Clone(),
		Status:    domain.ExperimentStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.Put(rec)
	return cloneRecord(rec), nil
}

// Put inserts or replaces a record without validation. Used to restore
// experiments from the archive store.
func (r *Registry) Put(rec domain.ExperimentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[rec.ID]; !exists {
		r.order = append(r.order, rec.ID)
	}
	r.entries[rec.ID] = &entry{record: cloneRecord(rec)}
}

// Remove drops a record without archival semantics. Used to roll back a
// create whose persistence failed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// Get returns a copy of an active experiment record.
func (r *Registry) Get(id string) (domain.ExperimentRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived {
		return domain.ExperimentRecord{}, &domain.NotFoundError{ID: id}
	}
	return cloneRecord(e.record), nil
}

// SetStatus moves an experiment to a new lifecycle state. Transitions out of
// completed fail with an InvalidTransitionError. Archival goes through
// Archive, not SetStatus.
func (r *Registry) SetStatus(ctx context.Context, id string, status domain.ExperimentStatus) (domain.ExperimentRecord, error) {
	rec, _, err := r.Transition(ctx, id, status)
	return rec, err
}

// Transition is SetStatus that also reports whether the status changed.
// Concurrent callers asking for the same status see changed exactly once.
func (r *Registry) Transition(ctx context.Context, id string, status domain.ExperimentStatus) (domain.ExperimentRecord, bool, error) {
	if !status.Valid() || status == domain.ExperimentStatusArchived {
		return domain.ExperimentRecord{}, false, fmt.Errorf("%w: unsupported target status %q", domain.ErrInvalidTransition, status)
	}
	e, err := r.entry(id)
	if err != nil {
		return domain.ExperimentRecord{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived {
		return domain.ExperimentRecord{}, false, &domain.NotFoundError{ID: id}
	}
	return r.setStatusLocked(ctx, e, id, status)
}

// CompleteWhen moves a running experiment to completed if reason returns a
// non-empty string for its current record, and returns that string. The
// check and the transition happen under the record's lock, so only one
// caller completes an experiment. reason must not call back into the
// registry.
func (r *Registry) CompleteWhen(ctx context.Context, id string, reason func(domain.ExperimentRecord) string) (domain.ExperimentRecord, string, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ExperimentRecord{}, "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived {
		return domain.ExperimentRecord{}, "", &domain.NotFoundError{ID: id}
	}
	if e.record.Status != domain.ExperimentStatusRunning {
		return cloneRecord(e.record), "", nil
	}
	why := reason(cloneRecord(e.record))
	if why == "" {
		return cloneRecord(e.record), "", nil
	}
	rec, _, err := r.setStatusLocked(ctx, e, id, domain.ExperimentStatusCompleted)
	if err != nil {
		return domain.ExperimentRecord{}, "", err
	}
	return rec, why, nil
}

func (r *Registry) setStatusLocked(ctx context.Context, e *entry, id string, status domain.ExperimentStatus) (domain.ExperimentRecord, bool, error) {
	from := e.record.Status
	if from == status {
		return cloneRecord(e.record), false, nil
	}
	if err := r.checkTransition(ctx, id, from, status); err != nil {
		return domain.ExperimentRecord{}, false, err
	}

	now := r.now()
	e.record.Status = status
	e.record.UpdatedAt = now
	if status == domain.ExperimentStatusCompleted {
		e.record.CompletedAt = &now
	}
	r.logger.Info("experiment status changed",
		slog.String("experiment_id", id),
		slog.String("from", string(from)),
		slog.String("status", string(status)))
	return cloneRecord(e.record), true, nil
}

// MarkFirstOutcome records the time of the first outcome, once.
func (r *Registry) MarkFirstOutcome(id string, ts time.Time) {
	e, err := r.entry(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.FirstOutcomeAt == nil || ts.Before(*e.record.FirstOutcomeAt) {
		e.record.FirstOutcomeAt = &ts
	}
}

// UpdateTrafficSplit replaces the traffic split of an active experiment.
// Assignments of existing subjects may change; the engine does not guard
// against that beyond logging.
func (r *Registry) UpdateTrafficSplit(id string, split map[string]float64) (domain.ExperimentRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.archived {
		return domain.ExperimentRecord{}, &domain.NotFoundError{ID: id}
	}
	if err := ValidateSplit(e.record.Config.Variants, split); err != nil {
		return domain.ExperimentRecord{}, err
	}

	next := make(map[string]float64, len(split))
	for k, v := range split {
		next[k] = v
	}
	e.record.Config.TrafficSplit = next
	e.record.UpdatedAt = r.now()
	r.logger.Warn("traffic split changed; existing subjects may be reassigned",
		slog.String("experiment_id", id),
		slog.Any("traffic_split", next))
	return cloneRecord(e.record), nil
}

// Archive removes an experiment from the active set and returns its last
// record.
func (r *Registry) Archive(ctx context.Context, id string) (domain.ExperimentRecord, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}

	e.mu.Lock()
	if e.archived {
		e.mu.Unlock()
		return domain.ExperimentRecord{}, &domain.NotFoundError{ID: id}
	}
	if err := r.checkTransition(ctx, id, e.record.Status, domain.ExperimentStatusArchived); err != nil {
		e.mu.Unlock()
		return domain.ExperimentRecord{}, err
	}
	e.archived = true
	rec := cloneRecord(e.record)
	e.mu.Unlock()

	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()

	r.logger.Info("experiment archived", slog.String("experiment_id", id))
	return rec, nil
}

// List returns active experiment ids in creation order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Records returns copies of all active records in creation order.
func (r *Registry) Records() []domain.ExperimentRecord {
	ids := r.List()
	out := make([]domain.ExperimentRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := r.Get(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return nil, &domain.NotFoundError{ID: id}
	}
	return e, nil
}

func (r *Registry) removeLocked(id string) {
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) checkTransition(ctx context.Context, id string, from, to domain.ExperimentStatus) error {
	if r.policy == nil {
		if !domain.CanTransition(from, to) {
			return &domain.InvalidTransitionError{ID: id, From: from, To: to}
		}
		return nil
	}
	allowed, reason, err := r.policy.AllowTransition(ctx, from, to)
	if err != nil {
		return fmt.Errorf("transition policy: %w", err)
	}
	if !allowed {
		if reason != "" {
			r.logger.Info("transition denied by policy",
				slog.String("experiment_id", id),
				slog.String("from", string(from)),
				slog.String("status", string(to)),
				slog.String("reason", reason))
		}
		return &domain.InvalidTransitionError{ID: id, From: from, To: to}
	}
	return nil
}

func cloneRecord(rec domain.ExperimentRecord) domain.ExperimentRecord {
	rec.Config = rec.Config.Clone()
	if rec.FirstOutcomeAt != nil {
		t := *rec.FirstOutcomeAt
		rec.FirstOutcomeAt = &t
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}
