// Package oerr defines the error taxonomy shared by the orchestration
// services. Handlers map these onto HTTP status codes; everything else
// wraps with %w and checks with errors.Is / errors.As.
package oerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a missing action, plan, workflow or task.
	ErrNotFound = errors.New("not found")

	// ErrRollbackUnavailable marks an action that cannot be reversed,
	// either because it was already rolled back or because no prior
	// state was captured before the mutation.
	ErrRollbackUnavailable = errors.New("rollback unavailable")

	// ErrCyclicDependency marks a task-dependency edge that would make
	// the dependency graph cyclic.
	ErrCyclicDependency = errors.New("dependency would create a cycle")

	// ErrCyclicPlan marks a plan whose step dependencies are cyclic.
	ErrCyclicPlan = errors.New("plan dependencies are cyclic")
)

// ValidationError reports rejected input: an unknown action or target
// type, a malformed condition, a step dependency referencing a step
// that does not exist.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StateTransitionError reports an operation invoked from a state the
// transition table does not permit, e.g. executing a pending action.
type StateTransitionError struct {
	Entity string
	ID     string
	From   string
	Op     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s from status %q", e.Entity, e.ID, e.Op, e.From)
}

// ExecutionError carries the underlying mutation failure. It is
// recorded on the entity as a structured failure result, not surfaced
// as a hard error to the caller.
type ExecutionError struct {
	ActionID string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %s execution failed: %v", e.ActionID, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// StatusFor maps taxonomy errors to HTTP status codes.
func StatusFor(err error) int {
	var ve *ValidationError
	var ste *StateTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve),
		errors.Is(err, ErrCyclicDependency),
		errors.Is(err, ErrCyclicPlan):
		return http.StatusBadRequest
	case errors.As(err, &ste),
		errors.Is(err, ErrRollbackUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
