package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

func TestDefaultPolicyMatchesBuiltInRule(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	statuses := []domain.ExperimentStatus{
		domain.ExperimentStatusRunning,
		domain.ExperimentStatusPaused,
		domain.ExperimentStatusCompleted,
		domain.ExperimentStatusArchived,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			allowed, _, err := engine.AllowTransition(ctx, from, to)
			require.NoError(t, err)
			assert.Equalf(t, domain.CanTransition(from, to), allowed, "%s -> %s", from, to)
		}
	}
}

func TestDefaultPolicyReason(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	allowed, reason, err := engine.AllowTransition(ctx, domain.ExperimentStatusCompleted, domain.ExperimentStatusRunning)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "completed experiments can only be archived", reason)
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package experiment_lifecycle

default allow = true
default reason = ""

allow = false {
	input.to == "paused"
}

reason = "pausing is disabled" {
	input.to == "paused"
}
`)
	require.NoError(t, err)

	allowed, reason, err := engine.AllowTransition(ctx, domain.ExperimentStatusRunning, domain.ExperimentStatusPaused)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, "pausing is disabled", reason)

	allowed, _, err = engine.AllowTransition(ctx, domain.ExperimentStatusRunning, domain.ExperimentStatusCompleted)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package experiment_lifecycle\nallow {")
	assert.Error(t, err)
}
