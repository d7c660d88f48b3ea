package resilience

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	p := observingPolicy(&delays)

	calls := 0
	out, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &HTTPError{StatusCode: 503}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls, "two retries then success")
	require.Len(t, delays, 2)

	// Each delay must sit within +-20% of initial*multiplier^attempt.
	for attempt, d := range delays {
		exact := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
		assert.GreaterOrEqual(t, float64(d), exact*0.8, "attempt %d", attempt)
		assert.LessOrEqual(t, float64(d), exact*1.2, "attempt %d", attempt)
	}
}

func TestRetryNonRetryableErrorPropagatesImmediately(t *testing.T) {
	var delays []time.Duration
	p := observingPolicy(&delays)

	boom := errors.New("bad request")
	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays, "no delay before propagating")
}

func TestRetryExhaustsBudget(t *testing.T) {
	var delays []time.Duration
	p := observingPolicy(&delays)
	p.MaxRetries = 2

	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 500}
	})

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 3, calls, "initial attempt plus MaxRetries")
	assert.Len(t, delays, 2)
}

func TestRetryRateLimitUsesLongerFloor(t *testing.T) {
	var delays []time.Duration
	p := observingPolicy(&delays)
	p.Jitter = false
	p.MaxRetries = 1

	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		return 0, &HTTPError{StatusCode: 429}
	})

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], p.RateLimitFloor,
		"429 backoff must not drop below the rate-limit floor")
}

func TestRetryDelayCappedAtMax(t *testing.T) {
	p := DefaultPolicy()
	p.Jitter = false
	p.MaxDelay = time.Second

	d := p.withDefaults().delay(10, false)
	assert.Equal(t, time.Second, d)
}

func TestRetryStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Retry(ctx, p, func(context.Context) (int, error) {
		return 0, &HTTPError{StatusCode: 502}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 500", &HTTPError{StatusCode: 500}, true},
		{"http 429", &HTTPError{StatusCode: 429}, true},
		{"http 404", &HTTPError{StatusCode: 404}, false},
		{"http 400", &HTTPError{StatusCode: 400}, false},
		{"timeout", &TimeoutError{Op: "planner", Budget: time.Second}, true},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
