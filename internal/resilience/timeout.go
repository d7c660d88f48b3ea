package resilience

import (
	"context"
	"fmt"
	"time"
)

// Per-call wall-clock budgets. These match what the outbound callers
// are allowed to hold a request open for.
const (
	BudgetAICall       = 30 * time.Second
	BudgetIntegration  = 15 * time.Second
	BudgetStorageQuery = 10 * time.Second
	BudgetWebhook      = 5 * time.Second
)

// TimeoutError is raised when a call exceeds its budget. It is a
// distinct type from whatever the underlying call returns so callers
// can tell budget expiry apart from call failure.
type TimeoutError struct {
	Op     string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Budget)
}

// WithTimeout races op against budget. The context handed to op is
// cancelled on expiry so cancellable calls abort promptly; calls that
// ignore cancellation are abandoned, their result discarded. Partial
// mutations committed before expiry are not rolled back here.
func WithTimeout[T any](ctx context.Context, op string, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn(callCtx)
		done <- outcome{val: val, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// The parent was cancelled, not the budget.
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, Budget: budget}
	}
}
