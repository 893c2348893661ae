// Package service is the experiment manager. It composes the registry, the
// assigner and the ledger, runs variants, and produces analysis summaries.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xiaot623/gogo/experiments/internal/config"
	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/executor"
	"github.com/xiaot623/gogo/experiments/internal/ledger"
	"github.com/xiaot623/gogo/experiments/internal/metrics"
	"github.com/xiaot623/gogo/experiments/internal/registry"
)

// ArchiveStore persists experiments, outcomes and final summaries.
// *store.SQLiteStore implements it.
type ArchiveStore interface {
	SaveExperiment(ctx context.Context, rec *domain.ExperimentRecord) error
	UpdateExperiment(ctx context.Context, rec *domain.ExperimentRecord) error
	ArchiveExperiment(ctx context.Context, experimentID string, summary *domain.AnalysisSummary) error
	GetExperiment(ctx context.Context, experimentID string) (*domain.ExperimentRecord, error)
	ListActiveExperiments(ctx context.Context) ([]domain.ExperimentRecord, error)
	AppendOutcome(ctx context.Context, o *domain.Outcome) (bool, error)
	ListOutcomes(ctx context.Context, experimentID string) ([]domain.Outcome, error)
	GetSummary(ctx context.Context, experimentID string) (*domain.AnalysisSummary, error)
	ListSummaries(ctx context.Context) ([]domain.AnalysisSummary, error)
}

// Publisher receives live feed messages.
type Publisher interface {
	Publish(msg domain.FeedMessage)
}

// storeWriteTimeout bounds best-effort archive writes.
const storeWriteTimeout = 2 * time.Second

type Service struct {
	config    *config.Config
	registry  *registry.Registry
	ledger    *ledger.Ledger
	executors *executor.Registry
	store     ArchiveStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
	random    func() float64

	checkEndpoint func(endpoint string) error

	flight singleflight.Group

	mu     sync.Mutex
	finals map[string]*domain.AnalysisSummary
}

// Option configures a Service.
type Option func(*Service)

// WithStore enables write-through to an archive store.
func WithStore(st ArchiveStore) Option {
	return func(s *Service) { s.store = st }
}

// WithPublisher sets the live feed publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithExecutors sets the executor registry used by RunNamedVariant.
func WithExecutors(r *executor.Registry) Option {
	return func(s *Service) { s.executors = r }
}

// WithEndpointCheck rejects experiments whose variant endpoints fail check.
func WithEndpointCheck(check func(endpoint string) error) Option {
	return func(s *Service) { s.checkEndpoint = check }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom overrides the source of placeholder metric values.
func WithRandom(f func() float64) Option {
	return func(s *Service) { s.random = f }
}

func New(cfg *config.Config, reg *registry.Registry, led *ledger.Ledger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Defaults()
	}
	s := &Service{
		config:    cfg,
		registry:  reg,
		ledger:    led,
		executors: executor.DefaultRegistry,
		logger:    slog.Default(),
		now:       time.Now,
		random:    rand.Float64,
		finals:    make(map[string]*domain.AnalysisSummary),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateExperiment validates and registers an experiment and returns its id.
// With an archive store a failed write rolls the registration back.
func (s *Service) CreateExperiment(ctx context.Context, cfg domain.ExperimentConfig) (string, error) {
	if s.checkEndpoint != nil {
		for _, v := range cfg.Variants {
			if v.Payload.Endpoint == "" {
				continue
			}
			if err := s.checkEndpoint(v.Payload.Endpoint); err != nil {
				return "", domain.NewValidationError("variant %s: %v", v.ID, err)
			}
		}
	}

	rec, err := s.registry.Create(cfg)
	if err != nil {
		return "", err
	}

	if s.store != nil {
		if err := s.store.SaveExperiment(ctx, &rec); err != nil {
			s.registry.Remove(rec.ID)
			metrics.StoreErrors.WithLabelValues("save_experiment").Inc()
			return "", fmt.Errorf("persist experiment: %w", err)
		}
	}

	metrics.Active.Inc()
	s.logger.Info("experiment created",
		slog.String("experiment_id", rec.ID),
		slog.String("name", rec.Config.Name),
		slog.Int("variants", len(rec.Config.Variants)))
	return rec.ID, nil
}

// SeedExperiments creates each config whose name is not already used by an
// active experiment, so a seed file can be applied on every boot.
func (s *Service) SeedExperiments(ctx context.Context, cfgs []domain.ExperimentConfig) (int, error) {
	names := make(map[string]bool)
	for _, rec := range s.registry.Records() {
		names[rec.Config.Name] = true
	}

	created := 0
	for _, cfg := range cfgs {
		if names[cfg.Name] {
			s.logger.Debug("seed experiment already active", slog.String("name", cfg.Name))
			continue
		}
		if _, err := s.CreateExperiment(ctx, cfg); err != nil {
			return created, fmt.Errorf("seed experiment %q: %w", cfg.Name, err)
		}
		names[cfg.Name] = true
		created++
	}
	return created, nil
}

// GetExperiment returns an active experiment record.
func (s *Service) GetExperiment(id string) (domain.ExperimentRecord, error) {
	return s.registry.Get(id)
}

// ActiveExperiments returns the ids of non-archived experiments in creation
// order.
func (s *Service) ActiveExperiments() []string {
	return s.registry.List()
}

// Results returns an experiment's outcomes in arrival order. Archived
// experiments keep their outcomes.
func (s *Service) Results(ctx context.Context, id string) ([]domain.Outcome, error) {
	if _, err := s.registry.Get(id); err == nil || s.ledger.Len(id) > 0 || s.final(id) != nil {
		return s.ledger.Outcomes(id), nil
	}
	if s.store != nil {
		rec, err := s.store.GetExperiment(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load experiment: %w", err)
		}
		if rec != nil {
			outcomes, err := s.store.ListOutcomes(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("load outcomes: %w", err)
			}
			if outcomes == nil {
				outcomes = []domain.Outcome{}
			}
			return outcomes, nil
		}
	}
	return nil, &domain.NotFoundError{ID: id}
}

func (s *Service) publish(msg domain.FeedMessage) {
	if s.publisher == nil {
		return
	}
	if msg.Ts == 0 {
		msg.Ts = s.now().UnixMilli()
	}
	s.publisher.Publish(msg)
}

// persist writes the current record to the archive store. Failures are
// logged and counted, never returned.
func (s *Service) persist(ctx context.Context, rec domain.ExperimentRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()
	if err := s.store.UpdateExperiment(ctx, &rec); err != nil {
		metrics.StoreErrors.WithLabelValues("update_experiment").Inc()
		s.logger.Warn("failed to persist experiment",
			slog.String("experiment_id", rec.ID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) final(id string) *domain.AnalysisSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finals[id]
}
