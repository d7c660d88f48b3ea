// Package resilience wraps outbound calls in retry-with-backoff and
// timeout primitives. Every call leaving the process (planner,
// integrations, storage) goes through here.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strconv"
	"syscall"
	"time"
)

// HTTPError carries a non-2xx response from an outbound HTTP call so
// the retry layer can classify it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return "http status " + strconv.Itoa(e.StatusCode)
}

// Policy controls the retry loop. Zero values fall back to the
// defaults documented on each field.
type Policy struct {
	MaxRetries        int           // additional attempts after the first; default 3
	InitialDelay      time.Duration // default 500ms
	MaxDelay          time.Duration // cap on the computed delay; default 30s
	BackoffMultiplier float64       // default 2
	Jitter            bool          // +-20% on each delay
	RateLimitFloor    time.Duration // minimum delay after HTTP 429; default 2s, scaled by the multiplier per attempt

	// sleep is swapped in tests to observe computed delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is the policy used for planner and integration calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		RateLimitFloor:    2 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2
	}
	if p.RateLimitFloor <= 0 {
		p.RateLimitFloor = 2 * time.Second
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

// Retryable reports whether an error is a classified transient
// failure: network timeout or reset, HTTP 5xx, or HTTP 429.
// Everything else propagates immediately without delay.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500 || he.StatusCode == 429
	}
	return false
}

func rateLimited(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == 429
}

// Retry runs op, retrying classified-transient failures with
// exponential backoff. The delay before attempt n+1 is
// min(initial*multiplier^n, max), +-20% when jitter is on; HTTP 429
// raises the delay to a multiplier-scaled floor. Retries block the
// caller for the cumulative backoff; there is no background queue.
func Retry[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt >= p.MaxRetries {
			return zero, lastErr
		}
		if err := p.sleep(ctx, p.delay(attempt, rateLimited(lastErr))); err != nil {
			return zero, err
		}
	}
}

func (p Policy) delay(attempt int, rateLimited bool) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
	if rateLimited {
		floor := time.Duration(float64(p.RateLimitFloor) * math.Pow(p.BackoffMultiplier, float64(attempt)))
		if d < floor {
			d = floor
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
