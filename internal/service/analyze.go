package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/stats"
)

// improvementThreshold is the relative gap, in percent, between the top two
// variants of a metric above which a recommendation is emitted.
const improvementThreshold = 5.0

// Analyze summarizes an experiment's outcomes. It first applies the
// completion rule, so a running experiment that has met its sample size or
// duration is reported as completed. Archived experiments return their final
// summary.
func (s *Service) Analyze(ctx context.Context, id string) (*domain.AnalysisSummary, error) {
	v, err, _ := s.flight.Do("analyze:"+id, func() (any, error) {
		rec, err := s.registry.Get(id)
		if err != nil {
			return s.archivedOr(ctx, id, err)
		}
		if updated, changed := s.checkCompletion(ctx, id); changed {
			rec = updated
		}
		return s.summarize(rec), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.AnalysisSummary), nil
}

// checkCompletion moves a running experiment to completed when its
// least-sampled variant has reached MinSampleSize or MaxDuration has elapsed
// since the first outcome. Variants with no traffic share are ignored. Only
// the experiment's own record is locked; the store write and the feed
// message happen after the lock is released.
func (s *Service) checkCompletion(ctx context.Context, id string) (domain.ExperimentRecord, bool) {
	rec, reason, err := s.registry.CompleteWhen(ctx, id, s.completionReason)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to complete experiment",
				slog.String("experiment_id", id),
				slog.String("error", err.Error()))
		}
		return rec, false
	}
	if reason == "" {
		return rec, false
	}

	s.logger.Info("experiment completed",
		slog.String("experiment_id", id),
		slog.String("reason", reason))
	s.afterTransition(ctx, rec)
	return rec, true
}

func (s *Service) completionReason(rec domain.ExperimentRecord) string {
	minSampled := math.MaxInt
	for _, v := range rec.Config.Variants {
		if rec.Config.TrafficSplit[v.ID] <= 0 {
			continue
		}
		if n := s.ledger.SampleSize(rec.ID, v.ID); n < minSampled {
			minSampled = n
		}
	}
	if minSampled != math.MaxInt && minSampled >= rec.Config.MinSampleSize {
		return fmt.Sprintf("min sample size %d reached", rec.Config.MinSampleSize)
	}

	if maxDuration := rec.Config.MaxDuration.Std(); maxDuration > 0 && rec.FirstOutcomeAt != nil {
		if s.now().Sub(*rec.FirstOutcomeAt) >= maxDuration {
			return fmt.Sprintf("max duration %s elapsed", maxDuration)
		}
	}
	return ""
}

// summarize computes the analysis of one experiment at query time.
func (s *Service) summarize(rec domain.ExperimentRecord) *domain.AnalysisSummary {
	summary := &domain.AnalysisSummary{
		ExperimentID: rec.ID,
		Name:         rec.Config.Name,
		Status:       rec.Status,
		StartedAt:    rec.CreatedAt,
		EndedAt:      rec.CompletedAt,
		Variants:     make([]domain.VariantSummary, 0, len(rec.Config.Variants)),
	}
	if rec.FirstOutcomeAt != nil {
		summary.StartedAt = *rec.FirstOutcomeAt
	}

	// values[metric][variant] holds the raw observations.
	values := make(map[string]map[string][]float64, len(rec.Config.Metrics))
	for _, metric := range rec.Config.Metrics {
		values[metric] = make(map[string][]float64, len(rec.Config.Variants))
		for _, v := range rec.Config.Variants {
			values[metric][v.ID] = s.ledger.Values(rec.ID, v.ID, metric)
		}
	}

	for _, v := range rec.Config.Variants {
		vs := domain.VariantSummary{
			ID:                  v.ID,
			Name:                v.Name,
			SampleSize:          s.ledger.SampleSize(rec.ID, v.ID),
			Metrics:             make(map[string]float64),
			ConfidenceIntervals: make(map[string]domain.Interval),
			Significance:        make(map[string]bool),
		}
		for _, metric := range rec.Config.Metrics {
			if agg := s.ledger.Aggregate(rec.ID, v.ID, metric); agg.Defined() {
				vs.Metrics[metric] = agg.Mean
			}
			if ci, ok := s.ledger.ConfidenceInterval(rec.ID, v.ID, metric); ok {
				vs.ConfidenceIntervals[metric] = ci
			}
			significant, pValue, tested := s.significance(v.ID, values[metric])
			vs.Significance[metric] = significant
			if tested {
				if vs.PValues == nil {
					vs.PValues = make(map[string]float64)
				}
				vs.PValues[metric] = pValue
			}
		}
		summary.Variants = append(summary.Variants, vs)
	}

	summary.Winner = winner(summary.Variants, rec.Config.PrimaryMetric())
	summary.Recommendations = recommendations(summary.Variants, rec.Config.Metrics, summary.Winner)
	return summary
}

// significance decides whether a variant's metric is significant. Both modes
// require SignificanceMinSamples observations. Welch mode also requires the
// variant to differ at SignificanceAlpha from every other variant with at
// least two observations; pValue is the largest p-value of those tests.
func (s *Service) significance(variantID string, byVariant map[string][]float64) (bool, float64, bool) {
	obs := byVariant[variantID]
	if len(obs) < s.config.SignificanceMinSamples {
		return false, 0, false
	}
	if s.config.SignificanceMode == domain.SignificanceThreshold {
		return true, 0, false
	}

	ids := make([]string, 0, len(byVariant))
	for id := range byVariant {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	significant := true
	maxP := 0.0
	tested := false
	for _, other := range ids {
		if other == variantID || len(byVariant[other]) < 2 {
			continue
		}
		res, err := stats.WelchTTest(obs, byVariant[other], s.config.SignificanceAlpha)
		if err != nil {
			continue
		}
		tested = true
		if res.PValue > maxP {
			maxP = res.PValue
		}
		if !res.Significant {
			significant = false
		}
	}
	return significant, maxP, tested
}

// winner is the variant with the highest mean of the primary metric among
// those significant for it. Ties go to the earlier variant.
func winner(variants []domain.VariantSummary, primary string) string {
	if primary == "" {
		return ""
	}
	best := ""
	bestScore := math.Inf(-1)
	for _, v := range variants {
		score, ok := v.Metrics[primary]
		if !ok || !v.Significance[primary] {
			continue
		}
		if best == "" || score > bestScore {
			best = v.ID
			bestScore = score
		}
	}
	return best
}

func recommendations(variants []domain.VariantSummary, metricNames []string, winnerID string) []string {
	recs := make([]string, 0, 1+len(metricNames))
	if winnerID != "" {
		recs = append(recs, fmt.Sprintf("Deploy variant %s as the winner", winnerID))
	} else {
		recs = append(recs, "Continue testing - no statistically significant winner found")
	}

	type score struct {
		id    string
		value float64
	}
	for _, metric := range metricNames {
		scores := make([]score, 0, len(variants))
		for _, v := range variants {
			if value, ok := v.Metrics[metric]; ok {
				scores = append(scores, score{id: v.ID, value: value})
			}
		}
		if len(scores) < 2 {
			continue
		}
		sort.SliceStable(scores, func(i, j int) bool { return scores[i].value > scores[j].value })

		top, second := scores[0], scores[1]
		if second.value == 0 {
			if top.value != 0 {
				recs = append(recs, fmt.Sprintf("%s outperforms %s in %s (baseline 0)", top.id, second.id, metric))
			}
			continue
		}
		improvement := (top.value - second.value) / math.Abs(second.value) * 100
		if improvement > improvementThreshold {
			recs = append(recs, fmt.Sprintf("%s shows %.1f%% improvement in %s", top.id, improvement, metric))
		}
	}
	return recs
}
