package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these; the typed errors below carry
// the details.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExecution         = errors.New("variant execution failed")
	ErrPaused            = errors.New("experiment is paused")
)

// ValidationError reports a rejected experiment configuration.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid experiment config: %s", e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown or archived experiment id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("experiment %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError reports an illegal lifecycle transition.
type InvalidTransitionError struct {
	ID   string
	From ExperimentStatus
	To   ExperimentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("experiment %s: cannot transition from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ExecutionError wraps a failed or timed out variant execution. The failure
// has already been recorded as an outcome when this is returned.
type ExecutionError struct {
	ExperimentID string
	VariantID    string
	Timeout      bool
	Err          error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("variant %s of experiment %s timed out: %v", e.VariantID, e.ExperimentID, e.Err)
	}
	return fmt.Sprintf("variant %s of experiment %s failed: %v", e.VariantID, e.ExperimentID, e.Err)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func (e *ExecutionError) Unwrap() error { return e.Err }
