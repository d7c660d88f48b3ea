package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/oerr"
)

// Planner decomposes a natural-language request into plan steps.
// Implementations call out to an AI service; a degenerate fallback
// handles planner outages.
type Planner interface {
	Decompose(ctx context.Context, tenantID, request string) ([]Step, error)
}

// GenerateInput is a request to turn free text into a plan.
type GenerateInput struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Request  string `json:"request"`
}

// ExecutionReport summarizes one execution pass over a plan.
type ExecutionReport struct {
	Plan          Plan     `json:"plan"`
	ExecutedSteps int      `json:"executed_steps"`
	Errors        []string `json:"errors,omitempty"`
}

// Executor generates, stores and runs plans. Step mutations go through
// the action executor so every plan step leaves an auditable action.
type Executor struct {
	store   Store
	actions *action.Executor
	planner Planner
	logger  *zap.Logger
	now     func() time.Time
}

func NewExecutor(store Store, actions *action.Executor, planner Planner, logger *zap.Logger) *Executor {
	return &Executor{
		store:   store,
		actions: actions,
		planner: planner,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Generate asks the planner to decompose the request and persists the
// resulting plan. Planner output is validated like any client input;
// a bad decomposition is a validation error, not a panic later.
func (e *Executor) Generate(ctx context.Context, in GenerateInput) (Plan, error) {
	if in.TenantID == "" {
		return Plan{}, oerr.Validationf("tenantId", "tenant is required")
	}
	if in.Request == "" {
		return Plan{}, oerr.Validationf("request", "request text is required")
	}

	steps, err := e.planner.Decompose(ctx, in.TenantID, in.Request)
	if err != nil {
		return Plan{}, fmt.Errorf("decompose request: %w", err)
	}
	return e.create(ctx, in, steps)
}

// Create persists a plan from caller-supplied steps.
func (e *Executor) Create(ctx context.Context, in GenerateInput, steps []Step) (Plan, error) {
	if in.TenantID == "" {
		return Plan{}, oerr.Validationf("tenantId", "tenant is required")
	}
	return e.create(ctx, in, steps)
}

func (e *Executor) create(ctx context.Context, in GenerateInput, steps []Step) (Plan, error) {
	if err := ValidateSteps(steps); err != nil {
		return Plan{}, err
	}
	for i := range steps {
		steps[i].Status = StepPending
		steps[i].ActionID = ""
		steps[i].Error = ""
	}

	now := e.now()
	name := in.Name
	if name == "" {
		name = truncate(in.Request, 80)
	}
	p := Plan{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		Name:      name,
		Request:   in.Request,
		Steps:     steps,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, p); err != nil {
		return Plan{}, err
	}
	e.logger.Info("plan created",
		zap.String("plan_id", p.ID),
		zap.String("tenant", p.TenantID),
		zap.Int("steps", len(p.Steps)),
	)
	return p, nil
}

// Execute runs the plan's steps in dependency order. Steps whose
// dependencies failed or were skipped are skipped; independent branches
// keep running. The plan completes only if every step completed.
func (e *Executor) Execute(ctx context.Context, tenantID, id string) (ExecutionReport, error) {
	p, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return ExecutionReport{}, err
	}
	if p.Status.Terminal() {
		return ExecutionReport{}, &oerr.StateTransitionError{Entity: "plan", ID: id, From: string(p.Status), Op: "execute"}
	}

	index := make(map[int]int, len(p.Steps))
	for i, s := range p.Steps {
		index[s.StepOrder] = i
	}
	order, err := topoOrder(p.Steps, index)
	if err != nil {
		return ExecutionReport{}, err
	}

	p.Status = StatusRunning
	p.Errors = nil
	if err := e.store.Update(ctx, p); err != nil {
		return ExecutionReport{}, err
	}

	executed := 0
	for _, i := range order {
		step := &p.Steps[i]
		if step.Status == StepCompleted {
			continue
		}
		if blocked, why := e.blockedBy(p.Steps, index, *step); blocked {
			step.Status = StepSkipped
			step.Error = why
			continue
		}

		step.Status = StepRunning
		if err := e.runStep(ctx, &p, step); err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			p.Errors = append(p.Errors, fmt.Sprintf("step %d: %v", step.StepOrder, err))
			e.logger.Warn("plan step failed",
				zap.String("plan_id", p.ID),
				zap.Int("step", step.StepOrder),
				zap.Error(err),
			)
			continue
		}
		step.Status = StepCompleted
		executed++
	}

	p.Status = StatusCompleted
	for _, s := range p.Steps {
		if s.Status != StepCompleted {
			p.Status = StatusFailed
			break
		}
	}
	if err := e.store.Update(ctx, p); err != nil {
		return ExecutionReport{}, err
	}
	e.logger.Info("plan executed",
		zap.String("plan_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Int("executed_steps", executed),
	)
	return ExecutionReport{Plan: p, ExecutedSteps: executed, Errors: p.Errors}, nil
}

// blockedBy reports whether any dependency of the step did not
// complete.
func (e *Executor) blockedBy(steps []Step, index map[int]int, step Step) (bool, string) {
	for _, dep := range step.Dependencies {
		if s := steps[index[dep]]; s.Status != StepCompleted {
			return true, fmt.Sprintf("dependency step %d is %s", dep, s.Status)
		}
	}
	return false, ""
}

// runStep materializes the step as a pre-approved action and executes
// it. The action id is recorded on the step either way.
func (e *Executor) runStep(ctx context.Context, p *Plan, step *Step) error {
	a, err := e.actions.Create(ctx, action.CreateInput{
		TenantID:         p.TenantID,
		UserID:           p.UserID,
		ActionType:       step.ActionType,
		TargetType:       step.TargetType,
		TargetID:         step.TargetID,
		Parameters:       step.Parameters,
		RequiresApproval: false,
	})
	if err != nil {
		return err
	}
	step.ActionID = a.ID

	a, err = e.actions.Execute(ctx, p.TenantID, a.ID, p.UserID)
	if err != nil {
		return err
	}
	if a.Status != action.StatusExecuted {
		if a.Error != "" {
			return fmt.Errorf("action %s failed: %s", a.ID, a.Error)
		}
		return fmt.Errorf("action %s ended in status %s", a.ID, a.Status)
	}
	return nil
}

// UpdateStatus sets the plan status directly. Terminal plans are
// frozen; the only manual moves are created<->running and into a
// terminal state.
func (e *Executor) UpdateStatus(ctx context.Context, tenantID, id string, status Status) (Plan, error) {
	switch status {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
	default:
		return Plan{}, oerr.Validationf("status", "unknown plan status %q", status)
	}
	p, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Plan{}, err
	}
	if p.Status.Terminal() {
		return Plan{}, &oerr.StateTransitionError{Entity: "plan", ID: id, From: string(p.Status), Op: "update status"}
	}
	p.Status = status
	if err := e.store.Update(ctx, p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// UpdateSteps replaces the step list of a plan that has not started.
func (e *Executor) UpdateSteps(ctx context.Context, tenantID, id string, steps []Step) (Plan, error) {
	p, err := e.store.Get(ctx, tenantID, id)
	if err != nil {
		return Plan{}, err
	}
	if p.Status != StatusCreated {
		return Plan{}, &oerr.StateTransitionError{Entity: "plan", ID: id, From: string(p.Status), Op: "update steps"}
	}
	if err := ValidateSteps(steps); err != nil {
		return Plan{}, err
	}
	for i := range steps {
		steps[i].Status = StepPending
		steps[i].ActionID = ""
		steps[i].Error = ""
	}
	p.Steps = steps
	if err := e.store.Update(ctx, p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Get returns one plan.
func (e *Executor) Get(ctx context.Context, tenantID, id string) (Plan, error) {
	return e.store.Get(ctx, tenantID, id)
}

// List returns plans for a tenant, newest first.
func (e *Executor) List(ctx context.Context, tenantID string, limit int) ([]Plan, error) {
	return e.store.List(ctx, tenantID, limit)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
