package plan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// Store persists plans.
type Store interface {
	Create(ctx context.Context, p Plan) error
	Get(ctx context.Context, tenantID, id string) (Plan, error)
	Update(ctx context.Context, p Plan) error
	List(ctx context.Context, tenantID string, limit int) ([]Plan, error)
}

type planKey struct {
	tenant string
	id     string
}

type MemoryStore struct {
	mu    sync.RWMutex
	plans map[planKey]Plan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: map[planKey]Plan{}}
}

func (s *MemoryStore) Create(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := planKey{tenant: p.TenantID, id: p.ID}
	if _, exists := s.plans[key]; exists {
		return oerr.Validationf("id", "plan %s already exists", p.ID)
	}
	s.plans[key] = clonePlan(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planKey{tenant: tenantID, id: id}]
	if !ok {
		return Plan{}, fmt.Errorf("plan %s: %w", id, oerr.ErrNotFound)
	}
	return clonePlan(p), nil
}

func (s *MemoryStore) Update(_ context.Context, p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := planKey{tenant: p.TenantID, id: p.ID}
	if _, ok := s.plans[key]; !ok {
		return fmt.Errorf("plan %s: %w", p.ID, oerr.ErrNotFound)
	}
	p.UpdatedAt = time.Now().UTC()
	s.plans[key] = clonePlan(p)
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, limit int) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Plan
	for key, p := range s.plans {
		if key.tenant == tenantID {
			out = append(out, clonePlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clonePlan(p Plan) Plan {
	out := p
	out.Steps = append([]Step(nil), p.Steps...)
	out.Errors = append([]string(nil), p.Errors...)
	return out
}
