package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
)

// Engine evaluates events against enabled workflows and dispatches
// matching action templates through the action executor.
type Engine struct {
	store   Store
	actions *action.Executor
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(store Store, actions *action.Executor, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		actions: actions,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch records one action fired by a workflow.
type Dispatch struct {
	WorkflowID string        `json:"workflow_id"`
	ActionID   string        `json:"action_id"`
	Status     action.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// Evaluate runs every enabled workflow against the event. Workflows
// are processed in priority order; within one workflow the templates
// fire in declaration order. A failed dispatch is recorded and does
// not stop later workflows.
func (e *Engine) Evaluate(ctx context.Context, ev Event) ([]Dispatch, error) {
	workflows, err := e.store.List(ctx, ev.TenantID, true)
	if err != nil {
		return nil, err
	}

	var dispatches []Dispatch
	for _, w := range workflows {
		if !e.matches(w, ev) {
			continue
		}
		e.logger.Info("workflow matched",
			zap.String("workflow_id", w.ID),
			zap.String("tenant", ev.TenantID),
			zap.String("event", string(ev.Type)),
			zap.String("item", ev.ItemID),
		)
		dispatches = append(dispatches, e.dispatch(ctx, w, ev.TenantID, ev.UserID, ev.ItemType, ev.ItemID)...)
	}
	return dispatches, nil
}

// matches applies trigger type, item type and condition checks.
// Conditions always evaluate against the new item data; an empty
// condition list matches everything.
func (e *Engine) matches(w Workflow, ev Event) bool {
	t := w.Trigger
	if t.Type != ev.Type || t.Type == TriggerScheduled {
		return false
	}
	if t.ItemType != "" && t.ItemType != ev.ItemType {
		return false
	}
	if t.Type == TriggerStatusChanged {
		prev := ev.PreviousData["status"]
		next := ev.ItemData["status"]
		if looseEqual(prev, next) {
			return false
		}
	}
	for _, c := range t.Conditions {
		if !c.Matches(ev.ItemData) {
			return false
		}
	}
	return true
}

// dispatch instantiates each template as a pre-approved action and
// executes it immediately.
func (e *Engine) dispatch(ctx context.Context, w Workflow, tenantID, userID, itemType, itemID string) []Dispatch {
	out := make([]Dispatch, 0, len(w.Actions))
	for _, tmpl := range w.Actions {
		targetType := tmpl.TargetType
		if targetType == "" {
			targetType = itemType
		}
		targetID := tmpl.TargetID
		if targetID == "" {
			targetID = itemID
		}

		a, err := e.actions.Create(ctx, action.CreateInput{
			TenantID:         tenantID,
			UserID:           userID,
			ActionType:       tmpl.ActionType,
			TargetType:       targetType,
			TargetID:         targetID,
			Parameters:       tmpl.Parameters,
			RequiresApproval: false,
		})
		if err != nil {
			e.logger.Warn("workflow action rejected",
				zap.String("workflow_id", w.ID),
				zap.Error(err),
			)
			out = append(out, Dispatch{WorkflowID: w.ID, Error: err.Error()})
			continue
		}

		d := Dispatch{WorkflowID: w.ID, ActionID: a.ID}
		executed, err := e.actions.Execute(ctx, tenantID, a.ID, userID)
		if err != nil {
			d.Error = err.Error()
		} else {
			d.Status = executed.Status
			d.Error = executed.Error
		}
		out = append(out, d)
	}
	return out
}

// EvaluateDue fires every scheduled workflow whose Due(now) holds and
// stamps its last run. The scheduler collaborator supplies now.
func (e *Engine) EvaluateDue(ctx context.Context, tenantID string, now time.Time) ([]Dispatch, error) {
	workflows, err := e.store.List(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	var dispatches []Dispatch
	for _, w := range workflows {
		if !w.Due(now) {
			continue
		}
		dispatches = append(dispatches, e.dispatch(ctx, w, tenantID, "", "", "")...)
		w.LastRunAt = &now
		if err := e.store.Update(ctx, w); err != nil {
			e.logger.Warn("stamp scheduled run failed",
				zap.String("workflow_id", w.ID),
				zap.Error(err),
			)
		}
	}
	return dispatches, nil
}

// ExecuteWorkflow fires a workflow manually, bypassing trigger
// matching. Conditions still apply against the supplied trigger data.
func (e *Engine) ExecuteWorkflow(ctx context.Context, tenantID, id, actorID string, triggerData map[string]any) ([]Dispatch, error) {
	w, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	for _, c := range w.Trigger.Conditions {
		if !c.Matches(triggerData) {
			e.logger.Info("manual execution skipped, conditions not met",
				zap.String("workflow_id", id),
				zap.String("actor", actorID),
			)
			return nil, nil
		}
	}
	itemID, _ := triggerData["id"].(string)
	return e.dispatch(ctx, w, tenantID, actorID, w.Trigger.ItemType, itemID), nil
}
