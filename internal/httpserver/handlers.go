package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/oerr"
	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/taskgraph"
	"github.com/knossys/conductor/internal/workflow"
)

const tenantHeader = "X-Tenant-Id"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("content-type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// tenant extracts the tenant scope every v1 route requires.
func tenant(r *http.Request) (string, error) {
	t := r.Header.Get(tenantHeader)
	if t == "" {
		return "", oerr.Validationf("tenant", "%s header is required", tenantHeader)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := oerr.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return oerr.Validationf("body", "invalid json: %v", err)
	}
	return nil
}

// --- actions ---

func (s *Server) handleActionCreate(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var in action.CreateInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	in.TenantID = t
	a, err := s.actions.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleActionList(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var f action.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		status := action.Status(v)
		f.Status = &status
	}
	if v := r.URL.Query().Get("type"); v != "" {
		typ := action.Type(v)
		f.Type = &typ
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, oerr.Validationf("limit", "must be an integer"))
			return
		}
		f.Limit = limit
	}
	items, err := s.actions.List(r.Context(), t, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleActionGet(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.actions.Get(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleActionApprove(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		ApproverID string `json:"approver_id"`
		Execute    bool   `json:"execute"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.actions.Approve(r.Context(), t, r.PathValue("id"), body.ApproverID, body.Execute)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleActionReject(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.actions.Reject(r.Context(), t, r.PathValue("id"), body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleActionExecute(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		ActorID string `json:"actor_id"`
	}
	if err := decodeOptional(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.actions.Execute(r.Context(), t, r.PathValue("id"), body.ActorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleActionRollback(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.actions.Rollback(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- plans ---

func (s *Server) handlePlanGenerate(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var in plan.GenerateInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, err)
		return
	}
	in.TenantID = t
	p, err := s.plans.Generate(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePlanCreate(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		plan.GenerateInput
		Steps []plan.Step `json:"steps"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	body.TenantID = t
	p, err := s.plans.Create(r.Context(), body.GenerateInput, body.Steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePlanList(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil {
			s.writeError(w, oerr.Validationf("limit", "must be an integer"))
			return
		}
	}
	items, err := s.plans.List(r.Context(), t, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.plans.Get(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlanUpdateSteps(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Steps []plan.Step `json:"steps"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.plans.UpdateSteps(r.Context(), t, r.PathValue("id"), body.Steps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlanUpdateStatus(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	p, err := s.plans.UpdateStatus(r.Context(), t, r.PathValue("id"), plan.Status(body.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlanExecute(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.plans.Execute(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- workflows ---

func (s *Server) handleWorkflowCreate(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, oerr.Validationf("body", "read failed: %v", err))
		return
	}
	wf, err := s.workflows.Create(r.Context(), t, raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleWorkflowList(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	items, err := s.workflows.List(r.Context(), t, enabledOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleWorkflowGet(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	wf, err := s.workflows.Get(r.Context(), t, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowUpdate(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, oerr.Validationf("body", "read failed: %v", err))
		return
	}
	wf, err := s.workflows.Update(r.Context(), t, r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowDelete(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.workflows.Delete(r.Context(), t, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkflowExecute(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		ActorID     string         `json:"actor_id"`
		TriggerData map[string]any `json:"trigger_data"`
	}
	if err := decodeOptional(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	dispatches, err := s.engine.ExecuteWorkflow(r.Context(), t, r.PathValue("id"), body.ActorID, body.TriggerData)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": dispatches})
}

// --- events ---

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var ev workflow.Event
	if err := decode(r, &ev); err != nil {
		s.writeError(w, err)
		return
	}
	ev.TenantID = t
	dispatches, err := s.engine.Evaluate(r.Context(), ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": dispatches})
}

// --- task dependencies ---

func (s *Server) handleDependencyAdd(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		DependsOnTaskID string `json:"depends_on_task_id"`
		Type            string `json:"dependency_type"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	dep := taskgraph.Dependency{
		TaskID:          r.PathValue("id"),
		DependsOnTaskID: body.DependsOnTaskID,
		Type:            taskgraph.DependencyType(body.Type),
	}
	if dep.Type == "" {
		dep.Type = taskgraph.DependencyBlockedBy
	}
	if err := s.graph.AddDependency(r.Context(), t, dep); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleDependencyRemove(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.graph.RemoveDependency(r.Context(), t, r.PathValue("id"), r.PathValue("depId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReconcileParent(w http.ResponseWriter, r *http.Request) {
	t, err := tenant(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		SubtaskIDs []string `json:"subtask_ids"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	status, err := s.graph.ReconcileParent(r.Context(), t, r.PathValue("id"), body.SubtaskIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// decodeOptional tolerates an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return oerr.Validationf("body", "invalid json: %v", err)
	}
	return nil
}
