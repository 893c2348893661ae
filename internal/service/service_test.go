package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/experiments/internal/config"
	"github.com/xiaot623/gogo/experiments/internal/domain"
	"github.com/xiaot623/gogo/experiments/internal/executor"
	"github.com/xiaot623/gogo/experiments/internal/ledger"
	"github.com/xiaot623/gogo/experiments/internal/registry"
)

func abConfig() domain.ExperimentConfig {
	return domain.ExperimentConfig{
		Name:          "greeting",
		Variants:      []domain.Variant{{ID: "A"}, {ID: "B"}},
		TrafficSplit:  map[string]float64{"A": 0.5, "B": 0.5},
		Metrics:       []string{"successRate"},
		MinSampleSize: 30,
	}
}

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	if cfg == nil {
		cfg = config.Defaults()
	}
	return New(cfg, registry.New(), ledger.New(), opts...)
}

// succeedA succeeds for variant A and fails for every other variant.
func succeedA(_ context.Context, v domain.Variant, _ map[string]any) (domain.Result, error) {
	if v.ID == "A" {
		return domain.Result{"output": "ok"}, nil
	}
	return nil, errors.New("variant unavailable")
}

func okResult(_ context.Context, _ domain.Variant, _ map[string]any) (domain.Result, error) {
	return domain.Result{"output": "ok"}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []domain.FeedMessage
}

func (p *recordingPublisher) Publish(msg domain.FeedMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) types() []domain.FeedEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.FeedEventType, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Type)
	}
	return out
}

type failingStore struct {
	ArchiveStore
}

func (failingStore) SaveExperiment(context.Context, *domain.ExperimentRecord) error {
	return errors.New("disk full")
}

func TestCreateExperiment(t *testing.T) {
	svc := newTestService(t, nil)

	id, err := svc.CreateExperiment(context.Background(), abConfig())
	require.NoError(t, err)
	assert.Contains(t, id, "exp_")
	assert.Equal(t, []string{id}, svc.ActiveExperiments())

	rec, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentStatusRunning, rec.Status)
}

func TestCreateExperimentValidation(t *testing.T) {
	svc := newTestService(t, nil)

	cfg := abConfig()
	cfg.TrafficSplit = map[string]float64{"A": 0.6, "B": 0.6}
	_, err := svc.CreateExperiment(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Empty(t, svc.ActiveExperiments())
}

func TestCreateExperimentRollsBackOnStoreFailure(t *testing.T) {
	svc := newTestService(t, nil, WithStore(failingStore{}))

	_, err := svc.CreateExperiment(context.Background(), abConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, svc.ActiveExperiments())
}

func TestCreateExperimentChecksEndpoints(t *testing.T) {
	check := func(endpoint string) error {
		if endpoint != "http://models.internal/run" {
			return errors.New("host not allowed")
		}
		return nil
	}
	svc := newTestService(t, nil, WithEndpointCheck(check))
	ctx := context.Background()

	cfg := abConfig()
	cfg.Variants[1].Payload.Endpoint = "http://169.254.169.254/latest"
	_, err := svc.CreateExperiment(ctx, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Contains(t, err.Error(), "variant B")
	assert.Empty(t, svc.ActiveExperiments())

	cfg.Variants[1].Payload.Endpoint = "http://models.internal/run"
	_, err = svc.CreateExperiment(ctx, cfg)
	require.NoError(t, err)
}

func TestSeedExperimentsSkipsActiveNames(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	other := abConfig()
	other.Name = "tone"
	created, err := svc.SeedExperiments(ctx, []domain.ExperimentConfig{abConfig(), other})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, svc.ActiveExperiments(), 2)
}

func TestRunVariantUnknownExperiment(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.RunVariant(context.Background(), "exp_missing", domain.RunRequest{}, okResult)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunVariantIsStickyPerSubject(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	first, err := svc.RunVariant(ctx, id, domain.RunRequest{SubjectID: "user-7"}, okResult)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		resp, err := svc.RunVariant(ctx, id, domain.RunRequest{SubjectID: "user-7"}, okResult)
		require.NoError(t, err)
		assert.Equal(t, first.VariantID, resp.VariantID)
		assert.NotEqual(t, first.RequestID, resp.RequestID)
	}
}

func TestRunVariantFailureIsRecordedAndReturned(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	cfg := abConfig()
	cfg.TrafficSplit = map[string]float64{"A": 0, "B": 1}
	cfg.Metrics = []string{"successRate", "errorRate"}
	id, err := svc.CreateExperiment(ctx, cfg)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = svc.RunVariant(ctx, id, domain.RunRequest{SubjectID: "u1"}, func(context.Context, domain.Variant, map[string]any) (domain.Result, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, errors.Is(err, domain.ErrExecution))

	var execErr *domain.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "B", execErr.VariantID)
	assert.False(t, execErr.Timeout)

	outcomes, err := svc.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "B", outcomes[0].VariantID)
	assert.Equal(t, 0.0, outcomes[0].Metrics["successRate"])
	assert.Equal(t, 1.0, outcomes[0].Metrics["errorRate"])
	assert.Contains(t, outcomes[0].Metrics, "latency")
}

func TestRunVariantTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.ExecutionTimeout = 20 * time.Millisecond
	svc := newTestService(t, cfg)
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name string
		fn   func(context.Context, domain.Variant, map[string]any) (domain.Result, error)
	}{
		{
			name: "honors context",
			fn: func(ctx context.Context, _ domain.Variant, _ map[string]any) (domain.Result, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		{
			name: "ignores context",
			fn: func(context.Context, domain.Variant, map[string]any) (domain.Result, error) {
				<-release
				return domain.Result{"output": "late"}, nil
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requestID := fmt.Sprintf("req-timeout-%d", i)
			start := time.Now()
			_, err := svc.RunVariant(ctx, id, domain.RunRequest{RequestID: requestID}, tt.fn)
			assert.Less(t, time.Since(start), time.Second)

			var execErr *domain.ExecutionError
			require.True(t, errors.As(err, &execErr))
			assert.True(t, execErr.Timeout)
			assert.True(t, errors.Is(err, context.DeadlineExceeded))

			var recorded *domain.Outcome
			for _, o := range svc.ledger.Outcomes(id) {
				if o.RequestID == requestID {
					o := o
					recorded = &o
				}
			}
			require.NotNil(t, recorded)
			assert.Equal(t, 20.0, recorded.Metrics["latency"])
			assert.Equal(t, 0.0, recorded.Metrics["successRate"])
		})
	}
}

func TestRunVariantPanicIsAnExecutionError(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	_, err = svc.RunVariant(ctx, id, domain.RunRequest{}, func(context.Context, domain.Variant, map[string]any) (domain.Result, error) {
		panic("bad executor")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))
	assert.Contains(t, err.Error(), "bad executor")
	assert.Equal(t, 1, svc.ledger.Len(id))
}

func TestRunVariantIdempotentRequestID(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	req := domain.RunRequest{SubjectID: "u1", RequestID: "req-fixed"}
	_, err = svc.RunVariant(ctx, id, req, okResult)
	require.NoError(t, err)
	resp, err := svc.RunVariant(ctx, id, req, okResult)
	require.NoError(t, err)
	assert.Equal(t, "req-fixed", resp.RequestID)

	outcomes, err := svc.Results(ctx, id)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestRunVariantPausedExperiment(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	_, err = svc.Pause(ctx, id)
	require.NoError(t, err)

	_, err = svc.RunVariant(ctx, id, domain.RunRequest{}, okResult)
	assert.True(t, errors.Is(err, domain.ErrPaused))

	rec, err := svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ExperimentStatusRunning, rec.Status)

	_, err = svc.RunVariant(ctx, id, domain.RunRequest{}, okResult)
	assert.NoError(t, err)
}

func TestRunNamedVariantUsesPayloadExecutor(t *testing.T) {
	executors := executor.NewRegistry()
	require.NoError(t, executors.Register(executor.NameEcho, executor.Echo))
	svc := newTestService(t, nil, WithExecutors(executors))
	ctx := context.Background()
	cfg := abConfig()
	cfg.Variants = []domain.Variant{
		{ID: "A", Payload: domain.VariantPayload{Executor: "echo", Prompt: "Hello {{name}}"}},
		{ID: "B", Payload: domain.VariantPayload{Executor: "echo", Prompt: "Hi {{name}}"}},
	}
	cfg.Metrics = []string{"successRate", "tokenCount"}
	id, err := svc.CreateExperiment(ctx, cfg)
	require.NoError(t, err)

	resp, err := svc.RunNamedVariant(ctx, id, domain.RunRequest{
		SubjectID: "u1",
		Inputs:    map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Result["output"], "Ada")

	outcomes, err := svc.Results(ctx, id)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1.0, outcomes[0].Metrics["successRate"])
	assert.Equal(t, 2.0, outcomes[0].Metrics["tokenCount"])
}

func TestRunVariantPublishesOutcomes(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, nil, WithPublisher(pub))
	ctx := context.Background()
	id, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	_, err = svc.RunVariant(ctx, id, domain.RunRequest{RequestID: "r1"}, okResult)
	require.NoError(t, err)
	_, err = svc.RunVariant(ctx, id, domain.RunRequest{RequestID: "r1"}, okResult)
	require.NoError(t, err)

	assert.Equal(t, []domain.FeedEventType{domain.FeedEventOutcome}, pub.types())
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, id, pub.messages[0].ExperimentID)
	assert.NotZero(t, pub.messages[0].Ts)
}

func TestConcurrentRunsLoseNoOutcomes(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	first, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)
	second, err := svc.CreateExperiment(ctx, abConfig())
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 200; i++ {
		i := i
		g.Go(func() error {
			id := first
			if i%2 == 1 {
				id = second
			}
			_, err := svc.RunVariant(ctx, id, domain.RunRequest{SubjectID: fmt.Sprintf("user-%d", i)}, okResult)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 100, svc.ledger.Len(first))
	assert.Equal(t, 100, svc.ledger.Len(second))
}

func TestDeriveMetrics(t *testing.T) {
	svc := newTestService(t, nil, WithRandom(func() float64 { return 0.42 }))

	long := "this output is comfortably longer than fifty characters in total"
	result := domain.Result{
		"output":     long,
		"confidence": 0.5,
		"tokens":     12,
		"clicks":     "3",
		"converted":  true,
	}
	names := []string{"latency", "successRate", "error_rate", "confidence", "tokenCount", "qualityScore", "clicks", "converted", "revenue"}

	got := svc.deriveMetrics(names, result, 1500*time.Millisecond)
	assert.Equal(t, 1500.0, got["latency"])
	assert.Equal(t, 1.0, got["successRate"])
	assert.Equal(t, 0.0, got["error_rate"])
	assert.Equal(t, 0.5, got["confidence"])
	assert.Equal(t, 12.0, got["tokenCount"])
	assert.InDelta(t, 0.6, got["qualityScore"], 1e-9)
	assert.Equal(t, 3.0, got["clicks"])
	assert.Equal(t, 1.0, got["converted"])
	assert.Equal(t, 0.42, got["revenue"])
}

func TestDeriveMetricsSkipPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.MissingMetricPolicy = domain.MissingMetricSkip
	svc := newTestService(t, cfg)

	got := svc.deriveMetrics([]string{"successRate", "revenue"}, domain.Result{"output": "ok"}, time.Millisecond)
	assert.Equal(t, 1.0, got["successRate"])
	assert.NotContains(t, got, "revenue")
}

func TestSucceeded(t *testing.T) {
	tests := []struct {
		name   string
		result domain.Result
		want   bool
	}{
		{name: "nil", result: nil, want: false},
		{name: "empty", result: domain.Result{}, want: false},
		{name: "no output field", result: domain.Result{"score": 1}, want: true},
		{name: "empty output", result: domain.Result{"output": ""}, want: false},
		{name: "nil output", result: domain.Result{"output": nil}, want: false},
		{name: "false output", result: domain.Result{"output": false}, want: false},
		{name: "text output", result: domain.Result{"output": "hi"}, want: true},
		{name: "structured output", result: domain.Result{"output": map[string]any{"a": 1}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, succeeded(tt.result))
		})
	}
}
