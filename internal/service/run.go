package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/experiments/internal/assign"
	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/executor"
	"github.com/xiaot623/gogo/experiments/internal/metrics"
)

// RunVariant assigns the subject to a variant, executes fn with that variant
// under the execution timeout and records the outcome.
//
// A failed or timed-out execution is still recorded, with successRate 0, and
// is returned as a *domain.ExecutionError.
func (s *Service) RunVariant(ctx context.Context, experimentID string, req domain.RunRequest, fn executor.VariantFunc) (*domain.RunResponse, error) {
	if fn == nil {
		return nil, fmt.Errorf("variant executor is required")
	}

	rec, err := s.registry.Get(experimentID)
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.ExperimentStatusPaused {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaused, experimentID)
	}

	variantID := assign.Variant(&rec.Config, rec.ID, assign.SubjectKey(req.SubjectID))
	variant, _ := rec.Config.Variant(variantID)
	metrics.Assignments.WithLabelValues(rec.ID, variantID).Inc()

	requestID := req.RequestID
	if requestID == "" {
		requestID = "req_" + uuid.New().String()
	}

	result, latency, timedOut, execErr := s.execute(ctx, variant, req.Inputs, fn)
	metrics.ExecutionDuration.WithLabelValues(rec.ID, variantID).Observe(latency.Seconds())

	outcome := domain.Outcome{
		ExperimentID: rec.ID,
		VariantID:    variantID,
		SubjectID:    req.SubjectID,
		RequestID:    requestID,
		Timestamp:    s.now(),
	}

	label := metrics.ResultSuccess
	if execErr != nil {
		outcome.Metrics = failureMetrics(rec.Config.Metrics, latency)
		label = metrics.ResultError
		if timedOut {
			label = metrics.ResultTimeout
			s.logger.Warn("variant execution timed out",
				slog.String("experiment_id", rec.ID),
				slog.String("variant_id", variantID),
				slog.String("request_id", requestID),
				slog.Duration("timeout", s.config.ExecutionTimeout))
		}
	} else {
		outcome.Metrics = s.deriveMetrics(rec.Config.Metrics, result, latency)
	}

	if added := s.record(ctx, outcome); added {
		metrics.Outcomes.WithLabelValues(rec.ID, variantID, label).Inc()
	}

	if execErr != nil {
		return nil, &domain.ExecutionError{
			ExperimentID: rec.ID,
			VariantID:    variantID,
			Timeout:      timedOut,
			Err:          execErr,
		}
	}
	return &domain.RunResponse{
		ExperimentID: rec.ID,
		VariantID:    variantID,
		RequestID:    requestID,
		Result:       result,
	}, nil
}

// RunNamedVariant runs the executor named by the assigned variant's payload.
func (s *Service) RunNamedVariant(ctx context.Context, experimentID string, req domain.RunRequest) (*domain.RunResponse, error) {
	return s.RunVariant(ctx, experimentID, req, s.executors.Execute)
}

type execResult struct {
	result domain.Result
	err    error
}

// execute runs fn in its own goroutine so a callback that ignores its
// context still cannot hold the caller past the timeout.
func (s *Service) execute(ctx context.Context, variant domain.Variant, inputs map[string]any, fn executor.VariantFunc) (domain.Result, time.Duration, bool, error) {
	timeout := s.config.ExecutionTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execResult, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		res, err := fn(execCtx, variant, inputs)
		done <- execResult{result: res, err: err}
	}()

	select {
	case out := <-done:
		latency := time.Since(start)
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeout, true, out.err
		}
		return out.result, latency, false, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, time.Since(start), false, ctx.Err()
		}
		return nil, timeout, true, fmt.Errorf("variant %s timed out after %s: %w", variant.ID, timeout, context.DeadlineExceeded)
	}
}

// record appends an outcome to the ledger and, when it is new, to the
// archive store and the live feed. It reports whether the outcome was new.
func (s *Service) record(ctx context.Context, o domain.Outcome) bool {
	added, err := s.ledger.Append(o)
	if err != nil {
		s.logger.Error("failed to record outcome",
			slog.String("experiment_id", o.ExperimentID),
			slog.String("request_id", o.RequestID),
			slog.String("error", err.Error()))
		return false
	}
	if !added {
		metrics.DuplicateOutcomes.WithLabelValues(o.ExperimentID).Inc()
		s.logger.Debug("duplicate outcome ignored",
			slog.String("experiment_id", o.ExperimentID),
			slog.String("request_id", o.RequestID))
		return false
	}

	s.registry.MarkFirstOutcome(o.ExperimentID, o.Timestamp)

	if s.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
		if _, err := s.store.AppendOutcome(storeCtx, &o); err != nil {
			metrics.StoreErrors.WithLabelValues("append_outcome").Inc()
			s.logger.Warn("failed to persist outcome",
				slog.String("experiment_id", o.ExperimentID),
				slog.String("request_id", o.RequestID),
				slog.String("error", err.Error()))
		}
		cancel()
	}

	s.publish(domain.FeedMessage{
		Type:         domain.FeedEventOutcome,
		ExperimentID: o.ExperimentID,
		Outcome:      &o,
	})

	s.checkCompletion(ctx, o.ExperimentID)
	return true
}
