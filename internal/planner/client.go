// Package planner calls the external planning service that turns a
// natural-language request into plan steps.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/resilience"
)

// Client is an HTTP plan.Planner. Requests are retried on transient
// failures and bounded by the AI call budget.
type Client struct {
	endpoint string
	http     *http.Client
	policy   resilience.Policy
	logger   *zap.Logger
}

type Option func(*Client)

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(endpoint string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   resilience.BudgetAICall,
		},
		policy: resilience.DefaultPolicy(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type decomposeRequest struct {
	TenantID string `json:"tenant_id"`
	Request  string `json:"request"`
}

type decomposeResponse struct {
	Steps []plan.Step `json:"steps"`
}

// Decompose posts the request text to the planning service and returns
// the proposed steps.
func (c *Client) Decompose(ctx context.Context, tenantID, request string) ([]plan.Step, error) {
	body, err := json.Marshal(decomposeRequest{TenantID: tenantID, Request: request})
	if err != nil {
		return nil, err
	}

	steps, err := resilience.Retry(ctx, c.policy, func(ctx context.Context) ([]plan.Step, error) {
		return resilience.WithTimeout(ctx, "planner decompose", resilience.BudgetAICall,
			func(ctx context.Context) ([]plan.Step, error) {
				return c.decomposeOnce(ctx, body)
			})
	})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return steps, nil
}

func (c *Client) decomposeOnce(ctx context.Context, body []byte) ([]plan.Step, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/decompose", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.HTTPError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var out decomposeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode planner response: %w", err)
	}
	return out.Steps, nil
}

// Fallback wraps a Planner and degrades to a single notification step
// when decomposition fails. The request still becomes a runnable plan;
// the user learns the planner could not break it down.
type Fallback struct {
	inner  plan.Planner
	logger *zap.Logger
}

func NewFallback(inner plan.Planner, logger *zap.Logger) *Fallback {
	return &Fallback{inner: inner, logger: logger}
}

func (f *Fallback) Decompose(ctx context.Context, tenantID, request string) ([]plan.Step, error) {
	steps, err := f.inner.Decompose(ctx, tenantID, request)
	if err == nil {
		return steps, nil
	}
	f.logger.Warn("planner unavailable, falling back to notify step",
		zap.String("tenant", tenantID),
		zap.Error(err),
	)
	return []plan.Step{{
		StepOrder:   1,
		ActionType:  "notify",
		TargetType:  "person",
		Description: "planner fallback",
		Parameters: map[string]any{
			"message": fmt.Sprintf("Could not plan %q automatically; please break it down manually.", truncate(request, 120)),
		},
	}}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
