package service

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// RunLifecycleMonitor completes experiments whose max duration elapses while
// no new outcomes arrive. It returns when ctx is done.
func (s *Service) RunLifecycleMonitor(ctx context.Context) {
	interval := s.config.MonitorInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepCompletions(ctx)
		}
	}
}

func (s *Service) sweepCompletions(ctx context.Context) int {
	completed := 0
	for _, rec := range s.registry.Records() {
		if rec.Status != domain.ExperimentStatusRunning {
			continue
		}
		if _, changed := s.checkCompletion(ctx, rec.ID); changed {
			completed++
		}
	}
	return completed
}
