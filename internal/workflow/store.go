package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// Store persists workflows per tenant.
type Store interface {
	Create(ctx context.Context, w Workflow) error
	Get(ctx context.Context, tenantID, id string) (Workflow, error)
	Update(ctx context.Context, w Workflow) error
	Delete(ctx context.Context, tenantID, id string) error
	// List returns workflows sorted by priority descending, id
	// ascending. With enabledOnly only enabled workflows come back.
	List(ctx context.Context, tenantID string, enabledOnly bool) ([]Workflow, error)
}

type wfKey struct {
	tenant string
	id     string
}

type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[wfKey]Workflow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: map[wfKey]Workflow{}}
}

func (s *MemoryStore) Create(_ context.Context, w Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wfKey{tenant: w.TenantID, id: w.ID}
	if _, exists := s.workflows[key]; exists {
		return oerr.Validationf("id", "workflow %s already exists", w.ID)
	}
	s.workflows[key] = cloneWorkflow(w)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[wfKey{tenant: tenantID, id: id}]
	if !ok {
		return Workflow{}, fmt.Errorf("workflow %s: %w", id, oerr.ErrNotFound)
	}
	return cloneWorkflow(w), nil
}

func (s *MemoryStore) Update(_ context.Context, w Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wfKey{tenant: w.TenantID, id: w.ID}
	if _, ok := s.workflows[key]; !ok {
		return fmt.Errorf("workflow %s: %w", w.ID, oerr.ErrNotFound)
	}
	w.UpdatedAt = time.Now().UTC()
	s.workflows[key] = cloneWorkflow(w)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wfKey{tenant: tenantID, id: id}
	if _, ok := s.workflows[key]; !ok {
		return fmt.Errorf("workflow %s: %w", id, oerr.ErrNotFound)
	}
	delete(s.workflows, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, enabledOnly bool) ([]Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Workflow
	for key, w := range s.workflows {
		if key.tenant != tenantID {
			continue
		}
		if enabledOnly && !w.Enabled {
			continue
		}
		out = append(out, cloneWorkflow(w))
	}
	sortWorkflows(out)
	return out, nil
}

// sortWorkflows orders by priority descending with id ascending as the
// tiebreak, the dispatch order the engine relies on.
func sortWorkflows(ws []Workflow) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Priority != ws[j].Priority {
			return ws[i].Priority > ws[j].Priority
		}
		return ws[i].ID < ws[j].ID
	})
}

func cloneWorkflow(w Workflow) Workflow {
	out := w
	out.Trigger.Conditions = append([]Condition(nil), w.Trigger.Conditions...)
	out.Actions = append([]ActionTemplate(nil), w.Actions...)
	if w.Trigger.Schedule != nil {
		sched := *w.Trigger.Schedule
		out.Trigger.Schedule = &sched
	}
	if w.LastRunAt != nil {
		t := *w.LastRunAt
		out.LastRunAt = &t
	}
	return out
}
