package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/metrics"
)

// Pause stops new runs of an experiment. Recorded outcomes are kept.
func (s *Service) Pause(ctx context.Context, id string) (domain.ExperimentRecord, error) {
	return s.transition(ctx, id, domain.ExperimentStatusPaused)
}

// Resume puts a paused experiment back to running. An experiment that met
// its completion rule while paused completes immediately.
func (s *Service) Resume(ctx context.Context, id string) (domain.ExperimentRecord, error) {
	rec, err := s.transition(ctx, id, domain.ExperimentStatusRunning)
	if err != nil {
		return rec, err
	}
	if updated, changed := s.checkCompletion(ctx, id); changed {
		return updated, nil
	}
	return rec, nil
}

func (s *Service) transition(ctx context.Context, id string, status domain.ExperimentStatus) (domain.ExperimentRecord, error) {
	rec, changed, err := s.registry.Transition(ctx, id, status)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}
	if changed {
		s.afterTransition(ctx, rec)
	}
	return rec, nil
}

// afterTransition persists a status change and announces it on the feed.
func (s *Service) afterTransition(ctx context.Context, rec domain.ExperimentRecord) {
	s.persist(ctx, rec)
	metrics.Transitions.WithLabelValues(string(rec.Status)).Inc()
	s.publish(domain.FeedMessage{
		Type:         domain.FeedEventStatus,
		ExperimentID: rec.ID,
		Status:       rec.Status,
	})
}

// Stop archives an experiment and returns its final summary. Stopping an
// archived experiment returns the same summary again.
func (s *Service) Stop(ctx context.Context, id string) (*domain.AnalysisSummary, error) {
	if summary := s.final(id); summary != nil {
		return summary, nil
	}

	v, err, _ := s.flight.Do("stop:"+id, func() (any, error) {
		if summary := s.final(id); summary != nil {
			return summary, nil
		}

		rec, err := s.registry.Get(id)
		if err != nil {
			return s.archivedOr(ctx, id, err)
		}

		now := s.now()
		summary := s.summarize(rec)
		summary.Status = domain.ExperimentStatusArchived
		summary.EndedAt = &now

		// The final summary must be visible before the registry drops the
		// experiment.
		s.mu.Lock()
		s.finals[id] = summary
		s.mu.Unlock()

		if _, err := s.registry.Archive(ctx, id); err != nil {
			s.mu.Lock()
			delete(s.finals, id)
			s.mu.Unlock()
			return s.archivedOr(ctx, id, err)
		}

		metrics.Active.Dec()
		metrics.Transitions.WithLabelValues(string(domain.ExperimentStatusArchived)).Inc()

		if s.store != nil {
			storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
			if err := s.store.ArchiveExperiment(storeCtx, id, summary); err != nil {
				metrics.StoreErrors.WithLabelValues("archive_experiment").Inc()
				s.logger.Warn("failed to persist final summary",
					slog.String("experiment_id", id),
					slog.String("error", err.Error()))
			}
			cancel()
		}

		s.logger.Info("experiment stopped",
			slog.String("experiment_id", id),
			slog.String("winner", summary.Winner))
		s.publish(domain.FeedMessage{
			Type:         domain.FeedEventArchived,
			ExperimentID: id,
			Status:       domain.ExperimentStatusArchived,
			Summary:      summary,
		})
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AnalysisSummary), nil
}

// archivedOr returns the final summary of an archived experiment when err
// is a not-found error and one exists, and err otherwise.
func (s *Service) archivedOr(ctx context.Context, id string, err error) (*domain.AnalysisSummary, error) {
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	summary, ferr := s.finalSummary(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	if summary == nil {
		return nil, err
	}
	return summary, nil
}

// finalSummary looks an archived experiment's summary up in memory, then in
// the archive store. It returns nil when neither has it.
func (s *Service) finalSummary(ctx context.Context, id string) (*domain.AnalysisSummary, error) {
	if summary := s.final(id); summary != nil {
		return summary, nil
	}
	if s.store == nil {
		return nil, nil
	}
	summary, err := s.store.GetSummary(ctx, id)
	if err != nil || summary == nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.finals[id]; ok {
		return cached, nil
	}
	s.finals[id] = summary
	return summary, nil
}

// UpdateTrafficSplit replaces the split of a live experiment. Later
// assignments use the new split; recorded outcomes keep their variants.
func (s *Service) UpdateTrafficSplit(ctx context.Context, id string, split map[string]float64) (domain.ExperimentRecord, error) {
	rec, err := s.registry.UpdateTrafficSplit(id, split)
	if err != nil {
		return domain.ExperimentRecord{}, err
	}
	s.persist(ctx, rec)
	return rec, nil
}

// ListSummaries returns the final summaries of archived experiments, oldest
// first.
func (s *Service) ListSummaries(ctx context.Context) ([]domain.AnalysisSummary, error) {
	if s.store != nil {
		return s.store.ListSummaries(ctx)
	}

	s.mu.Lock()
	out := make([]domain.AnalysisSummary, 0, len(s.finals))
	for _, summary := range s.finals {
		out = append(out, *summary)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].EndedAt, out[j].EndedAt
		if ei != nil && ej != nil && !ei.Equal(*ej) {
			return ei.Before(*ej)
		}
		return out[i].ExperimentID < out[j].ExperimentID
	})
	return out, nil
}
