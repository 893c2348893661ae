package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// Engine evaluates experiment lifecycle transitions against a rego policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares the given policy. The module must define
// data.experiment_lifecycle.allow and may define data.experiment_lifecycle.reason.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("allow = data.experiment_lifecycle.allow; reason = data.experiment_lifecycle.reason"),
		rego.Module("experiment_lifecycle.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// AllowTransition reports whether an experiment may move from one status to
// another, with the policy's reason when it gives one.
func (e *Engine) AllowTransition(ctx context.Context, from, to domain.ExperimentStatus) (bool, string, error) {
	input := map[string]any{
		"from": string(from),
		"to":   string(to),
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 {
		return false, "no decision", nil
	}

	allowed, _ := results[0].Bindings["allow"].(bool)
	reason, _ := results[0].Bindings["reason"].(string)
	return allowed, reason, nil
}

// DefaultPolicy mirrors domain.CanTransition. Operators may load a stricter
// one, for example to forbid pausing.
const DefaultPolicy = `
package experiment_lifecycle

default allow = false
default reason = ""

allow {
	input.from == input.to
}

allow {
	input.from == "running"
	input.to == "paused"
}

allow {
	input.from == "paused"
	input.to == "running"
}

allow {
	input.from != "completed"
	input.from != "archived"
	input.to == "completed"
}

allow {
	input.from != "archived"
	input.to == "archived"
}

reason = "completed experiments can only be archived" {
	input.from == "completed"
	input.to != "archived"
	input.to != "completed"
}

reason = "archived is terminal" {
	input.from == "archived"
	input.to != "archived"
}
`
