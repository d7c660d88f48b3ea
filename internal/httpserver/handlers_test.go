package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/config"
	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/target"
	"github.com/knossys/conductor/internal/taskgraph"
	"github.com/knossys/conductor/internal/workflow"
)

const testTenant = "tenant-1"

type stubPlanner struct{ steps []plan.Step }

func (p stubPlanner) Decompose(context.Context, string, string) ([]plan.Step, error) {
	return p.steps, nil
}

type fixture struct {
	server  *Server
	targets *target.MemoryRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := zap.NewNop()
	targets := target.NewMemoryRepository()
	graph := taskgraph.NewService(taskgraph.NewMemoryStore(), taskgraph.NewRecordStatuses(targets), logger)
	actions := action.NewExecutor(action.NewMemoryStore(), targets, graph, logger)
	plans := plan.NewExecutor(plan.NewMemoryStore(), actions, stubPlanner{
		steps: []plan.Step{{StepOrder: 1, ActionType: "notify", TargetType: "person",
			Parameters: map[string]any{"message": "hi"}}},
	}, logger)
	wfStore := workflow.NewMemoryStore()
	srv := NewServer(config.Default(), logger, actions, plans,
		workflow.NewService(wfStore, logger),
		workflow.NewEngine(wfStore, actions, logger),
		graph,
	)
	return fixture{server: srv, targets: targets}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set(tenantHeader, testTenant)
	rec := httptest.NewRecorder()
	f.server.routes().ServeHTTP(rec, req)
	return rec
}

func TestTenantHeaderRequired(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	rec := httptest.NewRecorder()
	f.server.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.targets.CreateWithID(context.Background(), testTenant,
		target.TypeProject, "p1", target.Record{"name": "old"}))

	rec := f.do(t, http.MethodPost, "/v1/actions", `{
		"user_id": "u1",
		"action_type": "update",
		"target_type": "project",
		"target_id": "p1",
		"parameters": {"name": "new"},
		"requires_approval": true
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created action.Action
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, action.StatusPending, created.Status)

	// Executing before approval maps the state error to 409.
	rec = f.do(t, http.MethodPost, "/v1/actions/"+created.ID+"/execute", `{"actor_id":"u1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/actions/"+created.ID+"/approve",
		`{"approver_id":"boss","execute":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var executed action.Action
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &executed))
	assert.Equal(t, action.StatusExecuted, executed.Status)

	rec = f.do(t, http.MethodPost, "/v1/actions/"+created.ID+"/rollback", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/actions?status=rolled_back", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []action.Action `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
}

func TestActionGetUnknownMapsToNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/actions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanGenerateAndExecuteOverHTTP(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/plans/generate",
		`{"user_id":"u1","request":"remind me"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p plan.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	rec = f.do(t, http.MethodPost, "/v1/plans/"+p.ID+"/execute", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report plan.ExecutionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.ExecutedSteps)
	assert.Equal(t, plan.StatusCompleted, report.Plan.Status)
}

func TestPlanCreateCyclicMapsToBadRequest(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/plans", `{
		"user_id": "u1",
		"request": "loop",
		"steps": [
			{"step_order": 1, "action_type": "notify", "target_type": "person", "dependencies": [2]},
			{"step_order": 2, "action_type": "notify", "target_type": "person", "dependencies": [1]}
		]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowCRUDAndEventOverHTTP(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.targets.CreateWithID(context.Background(), testTenant,
		target.TypeAdmin, "task-1", target.Record{"status": "In Progress"}))

	rec := f.do(t, http.MethodPost, "/v1/workflows", `{
		"name": "archive done",
		"trigger": {
			"type": "status_changed",
			"item_type": "admin",
			"conditions": [{"field": "status", "operator": "equals", "value": "Done"}]
		},
		"actions": [{"action_type": "update", "parameters": {"archived": 1}}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wf workflow.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	rec = f.do(t, http.MethodPost, "/v1/events", `{
		"type": "status_changed",
		"item_type": "admin",
		"item_id": "task-1",
		"item_data": {"status": "Done"},
		"previous_data": {"status": "In Progress"}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Dispatches []workflow.Dispatch `json:"dispatches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Dispatches, 1)
	assert.Equal(t, action.StatusExecuted, out.Dispatches[0].Status)

	rec = f.do(t, http.MethodDelete, "/v1/workflows/"+wf.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDependencyRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.targets.CreateWithID(ctx, testTenant, target.TypeAdmin, "a", target.Record{"status": "Todo"}))
	require.NoError(t, f.targets.CreateWithID(ctx, testTenant, target.TypeAdmin, "b", target.Record{"status": "Blocked"}))

	rec := f.do(t, http.MethodPost, "/v1/tasks/b/dependencies",
		`{"depends_on_task_id":"a","dependency_type":"blocked_by"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/tasks/a/dependencies",
		`{"depends_on_task_id":"b","dependency_type":"blocked_by"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "closing the loop is rejected")

	rec = f.do(t, http.MethodDelete, "/v1/tasks/b/dependencies/a", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/tasks/b/dependencies/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
