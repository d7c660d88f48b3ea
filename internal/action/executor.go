package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/oerr"
	"github.com/knossys/conductor/internal/target"
	"github.com/knossys/conductor/internal/taskgraph"
)

// Executor drives an action through its lifecycle. It is the single
// point of mutation: plans and workflows both dispatch through it.
type Executor struct {
	store   Store
	targets target.Repository
	graph   *taskgraph.Service
	logger  *zap.Logger
	now     func() time.Time
}

func NewExecutor(store Store, targets target.Repository, graph *taskgraph.Service, logger *zap.Logger) *Executor {
	return &Executor{
		store:   store,
		targets: targets,
		graph:   graph,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput is the request to gate a new mutation.
type CreateInput struct {
	TenantID         string         `json:"tenant_id"`
	UserID           string         `json:"user_id"`
	ActionType       string         `json:"action_type"`
	TargetType       string         `json:"target_type"`
	TargetID         string         `json:"target_id,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
}

// Create validates the input and persists a new action. Actions that
// do not require approval start out approved.
func (e *Executor) Create(ctx context.Context, in CreateInput) (Action, error) {
	actionType, err := ParseType(in.ActionType)
	if err != nil {
		return Action{}, err
	}
	targetType, err := target.ParseType(in.TargetType)
	if err != nil {
		return Action{}, err
	}
	if in.TenantID == "" {
		return Action{}, oerr.Validationf("tenantId", "tenant is required")
	}
	switch actionType {
	case TypeUpdate, TypeDelete, TypeLink:
		if in.TargetID == "" {
			return Action{}, oerr.Validationf("targetId", "%s actions require a target id", actionType)
		}
	case TypeCreate, TypeNotify, TypeSchedule:
	}

	now := e.now()
	a := Action{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		UserID:           in.UserID,
		Type:             actionType,
		TargetType:       targetType,
		TargetID:         in.TargetID,
		Parameters:       in.Parameters,
		RequiresApproval: in.RequiresApproval,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !in.RequiresApproval {
		a.Status = StatusApproved
	}
	if err := e.store.Create(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Info("action created",
		zap.String("action_id", a.ID),
		zap.String("tenant", a.TenantID),
		zap.String("type", string(a.Type)),
		zap.String("status", string(a.Status)),
	)
	return a, nil
}

// Approve moves a pending action to approved and optionally chains
// straight into execution.
func (e *Executor) Approve(ctx context.Context, tenantID, id, approverID string, execute bool) (Action, error) {
	ok, err := e.store.Transition(ctx, tenantID, id, StatusPending, StatusApproved)
	if err != nil {
		return Action{}, err
	}
	if !ok {
		a, err := e.store.Get(ctx, tenantID, id)
		if err != nil {
			return Action{}, err
		}
		return Action{}, &oerr.StateTransitionError{Entity: "action", ID: id, From: string(a.Status), Op: "approve"}
	}

	a, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Action{}, err
	}
	now := e.now()
	a.ApprovedBy = approverID
	a.ApprovedAt = &now
	if err := e.store.Update(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Info("action approved", zap.String("action_id", id), zap.String("approver", approverID))

	if execute {
		return e.Execute(ctx, tenantID, id, approverID)
	}
	return a, nil
}

// Reject moves a pending action to rejected with a reason.
func (e *Executor) Reject(ctx context.Context, tenantID, id, reason string) (Action, error) {
	ok, err := e.store.Transition(ctx, tenantID, id, StatusPending, StatusRejected)
	if err != nil {
		return Action{}, err
	}
	if !ok {
		a, err := e.store.Get(ctx, tenantID, id)
		if err != nil {
			return Action{}, err
		}
		return Action{}, &oerr.StateTransitionError{Entity: "action", ID: id, From: string(a.Status), Op: "reject"}
	}
	a, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Action{}, err
	}
	a.RejectedReason = reason
	if err := e.store.Update(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Info("action rejected", zap.String("action_id", id), zap.String("reason", reason))
	return a, nil
}

// Execute performs the mutation for an approved action. It is
// idempotent: once an action has run, re-invoking returns the
// recorded result without re-mutating. The claim is an atomic
// conditional update in the store, so concurrent calls on the same id
// perform the mutation exactly once.
func (e *Executor) Execute(ctx context.Context, tenantID, id, actorID string) (Action, error) {
	claimed, err := e.store.ClaimExecution(ctx, tenantID, id, e.now())
	if err != nil {
		return Action{}, err
	}
	if !claimed {
		a, err := e.store.Get(ctx, tenantID, id)
		if err != nil {
			return Action{}, err
		}
		switch a.Status {
		case StatusExecuted, StatusFailed:
			// No-op re-invocation; hand back what happened.
			return a, nil
		default:
			return Action{}, &oerr.StateTransitionError{Entity: "action", ID: id, From: string(a.Status), Op: "execute"}
		}
	}

	a, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Action{}, err
	}

	prior, err := e.capturePrior(ctx, a)
	if err != nil {
		return e.recordFailure(ctx, a, err)
	}

	result, err := e.dispatch(ctx, a)
	if err != nil {
		return e.recordFailure(ctx, a, err)
	}

	a.Status = StatusExecuted
	a.PriorState = prior
	a.Result = &result
	a.Error = ""
	if err := e.store.Update(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Info("action executed",
		zap.String("action_id", a.ID),
		zap.String("actor", actorID),
		zap.String("type", string(a.Type)),
	)

	e.cascadeTaskStatus(ctx, a)
	return a, nil
}

// capturePrior snapshots the target before mutating. For create-like
// actions the snapshot is an explicit empty record: present (so the
// action stays rollback-eligible) and marking "did not exist".
func (e *Executor) capturePrior(ctx context.Context, a Action) (target.Record, error) {
	switch a.Type {
	case TypeUpdate, TypeDelete:
		rec, err := e.targets.Get(ctx, a.TenantID, a.TargetType, a.TargetID)
		if err != nil {
			return nil, fmt.Errorf("capture prior state: %w", err)
		}
		return rec, nil
	case TypeCreate, TypeLink, TypeNotify, TypeSchedule:
		return target.Record{}, nil
	default:
		return nil, oerr.Validationf("actionType", "unknown action type %q", a.Type)
	}
}

// dispatch routes the mutation to the target repository.
func (e *Executor) dispatch(ctx context.Context, a Action) (Result, error) {
	switch a.Type {
	case TypeCreate:
		id, err := e.targets.Create(ctx, a.TenantID, a.TargetType, target.Record(a.Parameters))
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: id}, nil

	case TypeUpdate:
		updated, err := e.targets.Update(ctx, a.TenantID, a.TargetType, a.TargetID, target.Record(a.Parameters))
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: a.TargetID, Record: updated}, nil

	case TypeDelete:
		if err := e.targets.Delete(ctx, a.TenantID, a.TargetType, a.TargetID); err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: a.TargetID}, nil

	case TypeLink:
		link, err := linkParams(a)
		if err != nil {
			return Result{}, err
		}
		from := target.Ref{Type: a.TargetType, ID: a.TargetID}
		if err := e.targets.Link(ctx, a.TenantID, from, link.to, link.relation); err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: a.TargetID}, nil

	case TypeNotify:
		userID := stringParam(a.Parameters, "user_id")
		if userID == "" {
			userID = a.UserID
		}
		message := stringParam(a.Parameters, "message")
		remindAt, err := timeParam(a.Parameters, "remind_at")
		if err != nil {
			return Result{}, err
		}
		nid, err := e.targets.Notify(ctx, a.TenantID, userID, message, remindAt)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: nid}, nil

	case TypeSchedule:
		subject := stringParam(a.Parameters, "subject")
		at, err := timeParam(a.Parameters, "at")
		if err != nil {
			return Result{}, err
		}
		if at == nil {
			return Result{}, oerr.Validationf("at", "schedule actions require an 'at' time")
		}
		sid, err := e.targets.Schedule(ctx, a.TenantID, subject, *at)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, TargetID: sid}, nil

	default:
		return Result{}, oerr.Validationf("actionType", "unknown action type %q", a.Type)
	}
}

// recordFailure marks the action failed. Per the error contract the
// caller receives the structured failure, not a hard error, and the
// action retains nothing to roll back with.
func (e *Executor) recordFailure(ctx context.Context, a Action, cause error) (Action, error) {
	execErr := &oerr.ExecutionError{ActionID: a.ID, Cause: cause}
	a.Status = StatusFailed
	a.Error = cause.Error()
	a.PriorState = nil
	a.Result = &Result{Success: false, Error: cause.Error()}
	if err := e.store.Update(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Warn("action failed",
		zap.String("action_id", a.ID),
		zap.Error(execErr),
	)
	return a, nil
}

// cascadeTaskStatus feeds completed admin-task updates into the
// dependency graph so blocked tasks move to Todo.
func (e *Executor) cascadeTaskStatus(ctx context.Context, a Action) {
	if e.graph == nil || a.Type != TypeUpdate || a.TargetType != target.TypeAdmin {
		return
	}
	status := stringParam(a.Parameters, "status")
	if status == "" {
		return
	}
	if err := e.graph.OnStatusChanged(ctx, a.TenantID, a.TargetID, status); err != nil {
		e.logger.Warn("status cascade failed",
			zap.String("action_id", a.ID),
			zap.String("task", a.TargetID),
			zap.Error(err),
		)
	}
}

// Rollback reverses an executed action using its prior state.
func (e *Executor) Rollback(ctx context.Context, tenantID, id string) (Action, error) {
	a, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Action{}, err
	}
	if a.Status == StatusRolledBack || a.RolledBackAt != nil {
		return Action{}, fmt.Errorf("action %s already rolled back: %w", id, oerr.ErrRollbackUnavailable)
	}
	if a.Status != StatusExecuted {
		return Action{}, &oerr.StateTransitionError{Entity: "action", ID: id, From: string(a.Status), Op: "rollback"}
	}
	if a.PriorState == nil {
		return Action{}, fmt.Errorf("action %s has no prior state: %w", id, oerr.ErrRollbackUnavailable)
	}

	claimed, err := e.store.ClaimRollback(ctx, tenantID, id, e.now())
	if err != nil {
		return Action{}, err
	}
	if !claimed {
		return Action{}, fmt.Errorf("action %s already rolled back: %w", id, oerr.ErrRollbackUnavailable)
	}

	if err := e.reverse(ctx, a); err != nil {
		// Undo the claim so the rollback can be retried.
		a.RolledBackAt = nil
		if uerr := e.store.Update(ctx, a); uerr != nil {
			return Action{}, errors.Join(err, uerr)
		}
		return Action{}, fmt.Errorf("rollback action %s: %w", id, err)
	}

	a, err = e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Action{}, err
	}
	a.Status = StatusRolledBack
	if err := e.store.Update(ctx, a); err != nil {
		return Action{}, err
	}
	e.logger.Info("action rolled back", zap.String("action_id", id))
	return a, nil
}

// reverse applies the inverse mutation. A deleted record is restored
// under its original identifier; a created record is deleted by the
// id recorded at execution; link/notify/schedule inverses are
// best-effort.
func (e *Executor) reverse(ctx context.Context, a Action) error {
	switch a.Type {
	case TypeUpdate:
		fields := target.Record{}
		for k := range a.Parameters {
			if prev, ok := a.PriorState[k]; ok {
				fields[k] = prev
			}
		}
		_, err := e.targets.Update(ctx, a.TenantID, a.TargetType, a.TargetID, fields)
		return err

	case TypeDelete:
		return e.targets.CreateWithID(ctx, a.TenantID, a.TargetType, a.TargetID, a.PriorState)

	case TypeCreate:
		if a.Result == nil || a.Result.TargetID == "" {
			return fmt.Errorf("created record id unknown: %w", oerr.ErrRollbackUnavailable)
		}
		return e.targets.Delete(ctx, a.TenantID, a.TargetType, a.Result.TargetID)

	case TypeLink:
		link, err := linkParams(a)
		if err != nil {
			return err
		}
		from := target.Ref{Type: a.TargetType, ID: a.TargetID}
		return e.targets.Unlink(ctx, a.TenantID, from, link.to, link.relation)

	case TypeNotify:
		if a.Result == nil || a.Result.TargetID == "" {
			return fmt.Errorf("notification id unknown: %w", oerr.ErrRollbackUnavailable)
		}
		return e.targets.VoidNotification(ctx, a.TenantID, a.Result.TargetID)

	case TypeSchedule:
		if a.Result == nil || a.Result.TargetID == "" {
			return fmt.Errorf("schedule id unknown: %w", oerr.ErrRollbackUnavailable)
		}
		return e.targets.CancelSchedule(ctx, a.TenantID, a.Result.TargetID)

	default:
		return oerr.Validationf("actionType", "unknown action type %q", a.Type)
	}
}

// Get returns one action.
func (e *Executor) Get(ctx context.Context, tenantID, id string) (Action, error) {
	return e.store.Get(ctx, tenantID, id)
}

// List returns actions matching the filter, newest first.
func (e *Executor) List(ctx context.Context, tenantID string, f Filter) ([]Action, error) {
	return e.store.List(ctx, tenantID, f)
}

type link struct {
	to       target.Ref
	relation string
}

func linkParams(a Action) (link, error) {
	toType, err := target.ParseType(stringParam(a.Parameters, "to_type"))
	if err != nil {
		return link{}, err
	}
	toID := stringParam(a.Parameters, "to_id")
	if toID == "" {
		return link{}, oerr.Validationf("to_id", "link actions require to_id")
	}
	relation := stringParam(a.Parameters, "relation")
	if relation == "" {
		relation = "related"
	}
	return link{to: target.Ref{Type: toType, ID: toID}, relation: relation}, nil
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	s, _ := params[key].(string)
	return s
}

func timeParam(params map[string]any, key string) (*time.Time, error) {
	raw := stringParam(params, key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, oerr.Validationf(key, "must be RFC3339: %v", err)
	}
	return &t, nil
}
