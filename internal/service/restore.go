package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xiaot623/gogo/experiments/internal/metrics"
)

// Restore reloads non-archived experiments and their outcomes from the
// archive store. Call it once at startup, before serving.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	records, err := s.store.ListActiveExperiments(ctx)
	if err != nil {
		return fmt.Errorf("list experiments: %w", err)
	}

	outcomes := 0
	for _, rec := range records {
		list, err := s.store.ListOutcomes(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("list outcomes for %s: %w", rec.ID, err)
		}
		s.registry.Put(rec)
		for _, o := range list {
			if _, err := s.ledger.Append(o); err != nil {
				return fmt.Errorf("restore outcome %s: %w", o.RequestID, err)
			}
			s.registry.MarkFirstOutcome(o.ExperimentID, o.Timestamp)
		}
		outcomes += len(list)
	}

	metrics.Active.Set(float64(len(s.registry.List())))
	s.logger.Info("experiments restored",
		slog.Int("experiments", len(records)),
		slog.Int("outcomes", outcomes))
	return nil
}
