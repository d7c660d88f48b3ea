package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/target"
)

const testTenant = "tenant-1"

type fixture struct {
	engine  *Engine
	service *Service
	store   *MemoryStore
	targets *target.MemoryRepository
	actions *action.Executor
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	targets := target.NewMemoryRepository()
	actions := action.NewExecutor(action.NewMemoryStore(), targets, nil, zap.NewNop())
	store := NewMemoryStore()
	return fixture{
		engine:  NewEngine(store, actions, zap.NewNop()),
		service: NewService(store, zap.NewNop()),
		store:   store,
		targets: targets,
		actions: actions,
	}
}

func (f fixture) seedWorkflow(t *testing.T, w Workflow) Workflow {
	t.Helper()
	if w.ID == "" {
		w.ID = "wf-" + w.Name
	}
	w.TenantID = testTenant
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	require.NoError(t, f.store.Create(context.Background(), w))
	return w
}

func (f fixture) seedRecord(t *testing.T, typ target.Type, id string, rec target.Record) {
	t.Helper()
	require.NoError(t, f.targets.CreateWithID(context.Background(), testTenant, typ, id, rec))
}

func TestEvaluateArchivesOnDone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedRecord(t, target.TypeAdmin, "task-9", target.Record{"status": "In Progress"})
	f.seedWorkflow(t, Workflow{
		Name:    "archive-done-tasks",
		Enabled: true,
		Trigger: Trigger{
			Type:     TriggerStatusChanged,
			ItemType: "admin",
			Conditions: []Condition{
				{Field: "status", Operator: OpEquals, Value: "Done"},
			},
		},
		Actions: []ActionTemplate{
			{ActionType: "update", Parameters: map[string]any{"archived": 1}},
		},
	})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type:         TriggerStatusChanged,
		TenantID:     testTenant,
		ItemType:     "admin",
		ItemID:       "task-9",
		ItemData:     map[string]any{"status": "Done"},
		PreviousData: map[string]any{"status": "In Progress"},
	})
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, action.StatusExecuted, dispatches[0].Status)

	rec, err := f.targets.Get(ctx, testTenant, target.TypeAdmin, "task-9")
	require.NoError(t, err)
	assert.Equal(t, 1, rec["archived"])
}

func TestEvaluateAndSemantics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedRecord(t, target.TypeProject, "p1", target.Record{"status": "active", "budget": float64(100)})
	f.seedWorkflow(t, Workflow{
		Name:    "both-conditions",
		Enabled: true,
		Trigger: Trigger{
			Type:     TriggerItemUpdated,
			ItemType: "project",
			Conditions: []Condition{
				{Field: "status", Operator: OpEquals, Value: "active"},
				{Field: "budget", Operator: OpGreaterThan, Value: 500},
			},
		},
		Actions: []ActionTemplate{
			{ActionType: "update", Parameters: map[string]any{"flagged": true}},
		},
	})

	// Only one of the two monitored fields matches.
	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type:     TriggerItemUpdated,
		TenantID: testTenant,
		ItemType: "project",
		ItemID:   "p1",
		ItemData: map[string]any{"status": "active", "budget": float64(100)},
	})
	require.NoError(t, err)
	assert.Empty(t, dispatches, "one matching condition must not fire")

	dispatches, err = f.engine.Evaluate(ctx, Event{
		Type:     TriggerItemUpdated,
		TenantID: testTenant,
		ItemType: "project",
		ItemID:   "p1",
		ItemData: map[string]any{"status": "active", "budget": float64(900)},
	})
	require.NoError(t, err)
	assert.Len(t, dispatches, 1)
}

func TestEvaluateEmptyConditionsAlwaysMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWorkflow(t, Workflow{
		Name:    "notify-on-create",
		Enabled: true,
		Trigger: Trigger{Type: TriggerItemCreated, ItemType: "idea"},
		Actions: []ActionTemplate{
			{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "new idea"}},
		},
	})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type:     TriggerItemCreated,
		TenantID: testTenant,
		ItemType: "idea",
		ItemID:   "i1",
		ItemData: map[string]any{"title": "anything"},
	})
	require.NoError(t, err)
	assert.Len(t, dispatches, 1)
}

func TestEvaluatePriorityOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	trigger := Trigger{Type: TriggerItemCreated, ItemType: "idea"}
	notify := []ActionTemplate{
		{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "m"}},
	}
	f.seedWorkflow(t, Workflow{ID: "wf-b", Name: "low", Enabled: true, Priority: 1, Trigger: trigger, Actions: notify})
	f.seedWorkflow(t, Workflow{ID: "wf-a", Name: "high", Enabled: true, Priority: 9, Trigger: trigger, Actions: notify})
	f.seedWorkflow(t, Workflow{ID: "wf-c", Name: "tie", Enabled: true, Priority: 1, Trigger: trigger, Actions: notify})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type: TriggerItemCreated, TenantID: testTenant, ItemType: "idea", ItemID: "i1",
		ItemData: map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, dispatches, 3)
	assert.Equal(t, "wf-a", dispatches[0].WorkflowID, "highest priority first")
	assert.Equal(t, "wf-b", dispatches[1].WorkflowID, "ties break by id")
	assert.Equal(t, "wf-c", dispatches[2].WorkflowID)
}

func TestEvaluateIgnoresDisabledAndMismatched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	notify := []ActionTemplate{
		{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "m"}},
	}
	f.seedWorkflow(t, Workflow{Name: "disabled", Enabled: false,
		Trigger: Trigger{Type: TriggerItemCreated}, Actions: notify})
	f.seedWorkflow(t, Workflow{Name: "wrong-type", Enabled: true,
		Trigger: Trigger{Type: TriggerItemDeleted}, Actions: notify})
	f.seedWorkflow(t, Workflow{Name: "wrong-item", Enabled: true,
		Trigger: Trigger{Type: TriggerItemCreated, ItemType: "project"}, Actions: notify})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type: TriggerItemCreated, TenantID: testTenant, ItemType: "idea", ItemID: "i1",
		ItemData: map[string]any{},
	})
	require.NoError(t, err)
	assert.Empty(t, dispatches)
}

func TestStatusChangedRequiresActualChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWorkflow(t, Workflow{
		Name:    "on-done",
		Enabled: true,
		Trigger: Trigger{
			Type:       TriggerStatusChanged,
			Conditions: []Condition{{Field: "status", Operator: OpEquals, Value: "Done"}},
		},
		Actions: []ActionTemplate{
			{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "done"}},
		},
	})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type:         TriggerStatusChanged,
		TenantID:     testTenant,
		ItemType:     "admin",
		ItemID:       "t1",
		ItemData:     map[string]any{"status": "Done"},
		PreviousData: map[string]any{"status": "Done"},
	})
	require.NoError(t, err)
	assert.Empty(t, dispatches, "same status is not a change")
}

func TestEvaluateDueFiresAndStamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.seedWorkflow(t, Workflow{
		Name:    "weekly-digest",
		Enabled: true,
		Trigger: Trigger{Type: TriggerScheduled, Schedule: &Schedule{EverySeconds: 3600}},
		Actions: []ActionTemplate{
			{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "digest"}},
		},
	})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dispatches, err := f.engine.EvaluateDue(ctx, testTenant, now)
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, action.StatusExecuted, dispatches[0].Status)

	got, err := f.store.Get(ctx, testTenant, w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, now, *got.LastRunAt)

	// Within the interval nothing fires again.
	dispatches, err = f.engine.EvaluateDue(ctx, testTenant, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, dispatches)
}

func TestExecuteWorkflowManually(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedRecord(t, target.TypeProject, "p1", target.Record{"status": "active"})
	w := f.seedWorkflow(t, Workflow{
		Name:    "manual",
		Enabled: true,
		Trigger: Trigger{
			Type:       TriggerItemUpdated,
			ItemType:   "project",
			Conditions: []Condition{{Field: "status", Operator: OpEquals, Value: "active"}},
		},
		Actions: []ActionTemplate{
			{ActionType: "update", Parameters: map[string]any{"reviewed": true}},
		},
	})

	dispatches, err := f.engine.ExecuteWorkflow(ctx, testTenant, w.ID, "u1",
		map[string]any{"id": "p1", "status": "active"})
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, action.StatusExecuted, dispatches[0].Status)

	dispatches, err = f.engine.ExecuteWorkflow(ctx, testTenant, w.ID, "u1",
		map[string]any{"id": "p1", "status": "paused"})
	require.NoError(t, err)
	assert.Empty(t, dispatches, "conditions still gate manual execution")
}

func TestDispatchFailureRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWorkflow(t, Workflow{
		Name:    "updates-missing-record",
		Enabled: true,
		Trigger: Trigger{Type: TriggerItemUpdated, ItemType: "project"},
		Actions: []ActionTemplate{
			{ActionType: "update", TargetID: "ghost", Parameters: map[string]any{"x": 1}},
			{ActionType: "notify", TargetType: "person", Parameters: map[string]any{"message": "still runs"}},
		},
	})

	dispatches, err := f.engine.Evaluate(ctx, Event{
		Type: TriggerItemUpdated, TenantID: testTenant, ItemType: "project", ItemID: "p1",
		ItemData: map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	assert.Equal(t, action.StatusFailed, dispatches[0].Status)
	assert.NotEmpty(t, dispatches[0].Error)
	assert.Equal(t, action.StatusExecuted, dispatches[1].Status, "later templates still dispatch")
}
