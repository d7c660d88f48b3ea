package planner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/resilience"
)

func fastPolicy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		RateLimitFloor:    time.Millisecond,
	}
}

func TestClientDecompose(t *testing.T) {
	var got decomposeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/decompose", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(decomposeResponse{Steps: []plan.Step{
			{StepOrder: 1, ActionType: "create", TargetType: "project"},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop(), WithPolicy(fastPolicy()))
	steps, err := c.Decompose(context.Background(), "t1", "make a project")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "create", steps[0].ActionType)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, "make a project", got.Request)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(decomposeResponse{Steps: []plan.Step{
			{StepOrder: 1, ActionType: "notify", TargetType: "person"},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop(), WithPolicy(fastPolicy()))
	steps, err := c.Decompose(context.Background(), "t1", "retry me")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop(), WithPolicy(fastPolicy()))
	_, err := c.Decompose(context.Background(), "t1", "nope")

	var herr *resilience.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusBadRequest, herr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

type failingPlanner struct{}

func (failingPlanner) Decompose(context.Context, string, string) ([]plan.Step, error) {
	return nil, errors.New("model offline")
}

func TestFallbackDegradesToNotifyStep(t *testing.T) {
	f := NewFallback(failingPlanner{}, zap.NewNop())

	steps, err := f.Decompose(context.Background(), "t1", "organize the offsite")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "notify", steps[0].ActionType)
	assert.Contains(t, steps[0].Parameters["message"], "organize the offsite")
}

type echoPlanner struct{ steps []plan.Step }

func (p echoPlanner) Decompose(context.Context, string, string) ([]plan.Step, error) {
	return p.steps, nil
}

func TestFallbackPassesThroughOnSuccess(t *testing.T) {
	want := []plan.Step{{StepOrder: 1, ActionType: "create", TargetType: "idea"}}
	f := NewFallback(echoPlanner{steps: want}, zap.NewNop())

	steps, err := f.Decompose(context.Background(), "t1", "anything")
	require.NoError(t, err)
	assert.Equal(t, want, steps)
}
