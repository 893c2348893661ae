package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// Echo renders the variant prompt with the inputs substituted for
// {{name}} placeholders and returns it as output. A numeric
// payload.config.confidence is passed through.
func Echo(ctx context.Context, variant domain.Variant, inputs map[string]any) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := variant.Payload.Prompt
	for k, v := range inputs {
		output = strings.ReplaceAll(output, "{{"+k+"}}", fmt.Sprint(v))
	}

	result := domain.Result{
		"output":     output,
		"variant_id": variant.ID,
		"tokens":     len(strings.Fields(output)),
	}
	if c, ok := variant.Payload.Config["confidence"]; ok {
		result["confidence"] = c
	}
	return result, nil
}

// RegisterBuiltins adds echo and a webhook executor backed by client to r.
func RegisterBuiltins(r *Registry, client *WebhookClient) error {
	if err := r.Register(NameEcho, Echo); err != nil {
		return err
	}
	return r.Register(NameWebhook, client.Execute)
}
