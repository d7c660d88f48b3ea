package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/oerr"
)

// Service owns workflow CRUD. Definitions arrive as raw JSON so the
// schema pass sees exactly what the client sent.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type definition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Trigger     Trigger          `json:"trigger"`
	Actions     []ActionTemplate `json:"actions"`
	Priority    int              `json:"priority"`
	Enabled     *bool            `json:"enabled,omitempty"`
}

// Create validates and persists a new workflow. Workflows are enabled
// unless the definition says otherwise.
func (s *Service) Create(ctx context.Context, tenantID string, raw []byte) (Workflow, error) {
	if tenantID == "" {
		return Workflow{}, oerr.Validationf("tenantId", "tenant is required")
	}
	if err := ValidateDefinition(raw); err != nil {
		return Workflow{}, err
	}
	var def definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Workflow{}, oerr.Validationf("definition", "invalid json: %v", err)
	}

	now := s.now()
	w := Workflow{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        def.Name,
		Description: def.Description,
		Trigger:     def.Trigger,
		Actions:     def.Actions,
		Priority:    def.Priority,
		Enabled:     def.Enabled == nil || *def.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateSemantics(w); err != nil {
		return Workflow{}, err
	}
	if err := s.store.Create(ctx, w); err != nil {
		return Workflow{}, err
	}
	s.logger.Info("workflow created",
		zap.String("workflow_id", w.ID),
		zap.String("tenant", tenantID),
		zap.String("trigger", string(w.Trigger.Type)),
	)
	return w, nil
}

// Update applies a partial patch. Only keys present in the patch
// change; the merged result is re-validated as a whole.
func (s *Service) Update(ctx context.Context, tenantID, id string, patch []byte) (Workflow, error) {
	w, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return Workflow{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return Workflow{}, oerr.Validationf("patch", "invalid json: %v", err)
	}
	def := definition{
		Name:        w.Name,
		Description: w.Description,
		Trigger:     w.Trigger,
		Actions:     w.Actions,
		Priority:    w.Priority,
	}
	enabled := w.Enabled
	def.Enabled = &enabled

	merged := map[string]func(json.RawMessage) error{
		"name":        func(r json.RawMessage) error { return json.Unmarshal(r, &def.Name) },
		"description": func(r json.RawMessage) error { return json.Unmarshal(r, &def.Description) },
		"trigger":     func(r json.RawMessage) error { return json.Unmarshal(r, &def.Trigger) },
		"actions":     func(r json.RawMessage) error { return json.Unmarshal(r, &def.Actions) },
		"priority":    func(r json.RawMessage) error { return json.Unmarshal(r, &def.Priority) },
		"enabled":     func(r json.RawMessage) error { return json.Unmarshal(r, def.Enabled) },
	}
	for key, raw := range fields {
		apply, ok := merged[key]
		if !ok {
			return Workflow{}, oerr.Validationf(key, "unknown field")
		}
		if err := apply(raw); err != nil {
			return Workflow{}, oerr.Validationf(key, "invalid value: %v", err)
		}
	}

	w.Name = def.Name
	w.Description = def.Description
	w.Trigger = def.Trigger
	w.Actions = def.Actions
	w.Priority = def.Priority
	w.Enabled = *def.Enabled
	if err := validateSemantics(w); err != nil {
		return Workflow{}, err
	}
	if err := s.store.Update(ctx, w); err != nil {
		return Workflow{}, err
	}
	s.logger.Info("workflow updated", zap.String("workflow_id", id))
	return w, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.Info("workflow deleted", zap.String("workflow_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Workflow, error) {
	return s.store.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string, enabledOnly bool) ([]Workflow, error) {
	return s.store.List(ctx, tenantID, enabledOnly)
}
