// Package executor holds the named functions that execute a variant's payload.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xiaot623/gogo/experiments/internal/domain"
)

// VariantFunc executes one variant and returns its raw result.
type VariantFunc func(ctx context.Context, variant domain.Variant, inputs map[string]any) (domain.Result, error)

// Built-in executor names.
const (
	NameEcho    = "echo"
	NameWebhook = "webhook"
)

// Registry stores variant executors keyed by name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]VariantFunc
}

// DefaultRegistry is the shared registry used by the server.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]VariantFunc),
	}
}

// Register adds a new executor.
func (r *Registry) Register(name string, fn VariantFunc) error {
	if name == "" {
		return fmt.Errorf("executor name is required")
	}
	if fn == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[name]; exists {
		return fmt.Errorf("executor already registered for %s", name)
	}
	r.executors[name] = fn
	return nil
}

// Lookup returns the executor registered under name.
func (r *Registry) Lookup(name string) (VariantFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[name]
	return fn, ok
}

// Resolve picks the executor for a variant: the payload's explicit executor
// name, else webhook when an endpoint is set, else echo.
func (r *Registry) Resolve(variant domain.Variant) (VariantFunc, error) {
	name := ExecutorName(variant.Payload)
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no executor registered for %s", name)
	}
	return fn, nil
}

// Execute runs the executor resolved for the variant.
func (r *Registry) Execute(ctx context.Context, variant domain.Variant, inputs map[string]any) (domain.Result, error) {
	fn, err := r.Resolve(variant)
	if err != nil {
		return nil, err
	}
	return fn(ctx, variant, inputs)
}

// Names returns the registered executor names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutorName returns the executor a payload asks for.
func ExecutorName(p domain.VariantPayload) string {
	switch {
	case p.Executor != "":
		return p.Executor
	case p.Endpoint != "":
		return NameWebhook
	default:
		return NameEcho
	}
}
