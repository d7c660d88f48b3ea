package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// Store persists actions. The Claim* operations are atomic
// conditional transitions: the status guard is enforced inside the
// store, never as a read-check-then-write in the caller, so
// concurrent requests on the same action id cannot double-execute.
type Store interface {
	Create(ctx context.Context, a Action) error
	Get(ctx context.Context, tenantID, id string) (Action, error)
	Update(ctx context.Context, a Action) error
	List(ctx context.Context, tenantID string, f Filter) ([]Action, error)

	// Transition moves status from -> to iff the current status is
	// from. Returns false (and no error) when the guard fails.
	Transition(ctx context.Context, tenantID, id string, from, to Status) (bool, error)

	// ClaimExecution stamps executed_at iff status is approved and
	// executed_at is unset. The stamp is the execution claim: exactly
	// one caller wins it per action.
	ClaimExecution(ctx context.Context, tenantID, id string, at time.Time) (bool, error)

	// ClaimRollback stamps rolled_back_at iff status is executed and
	// rolled_back_at is unset.
	ClaimRollback(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
}

type actionKey struct {
	tenant string
	id     string
}

// MemoryStore is the in-process Store. The mutex makes every claim a
// single atomic step.
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[actionKey]Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: map[actionKey]Action{}}
}

func (s *MemoryStore) Create(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actionKey{tenant: a.TenantID, id: a.ID}
	if _, exists := s.actions[key]; exists {
		return oerr.Validationf("id", "action %s already exists", a.ID)
	}
	s.actions[key] = a
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[actionKey{tenant: tenantID, id: id}]
	if !ok {
		return Action{}, fmt.Errorf("action %s: %w", id, oerr.ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) Update(_ context.Context, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actionKey{tenant: a.TenantID, id: a.ID}
	if _, ok := s.actions[key]; !ok {
		return fmt.Errorf("action %s: %w", a.ID, oerr.ErrNotFound)
	}
	a.UpdatedAt = time.Now().UTC()
	s.actions[key] = a
	return nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, f Filter) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Action
	for key, a := range s.actions {
		if key.tenant != tenantID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, tenantID, id string, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actionKey{tenant: tenantID, id: id}
	a, ok := s.actions[key]
	if !ok {
		return false, fmt.Errorf("action %s: %w", id, oerr.ErrNotFound)
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	s.actions[key] = a
	return true, nil
}

func (s *MemoryStore) ClaimExecution(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actionKey{tenant: tenantID, id: id}
	a, ok := s.actions[key]
	if !ok {
		return false, fmt.Errorf("action %s: %w", id, oerr.ErrNotFound)
	}
	if a.Status != StatusApproved || a.ExecutedAt != nil {
		return false, nil
	}
	a.ExecutedAt = &at
	a.UpdatedAt = time.Now().UTC()
	s.actions[key] = a
	return true, nil
}

func (s *MemoryStore) ClaimRollback(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := actionKey{tenant: tenantID, id: id}
	a, ok := s.actions[key]
	if !ok {
		return false, fmt.Errorf("action %s: %w", id, oerr.ErrNotFound)
	}
	if a.Status != StatusExecuted || a.RolledBackAt != nil {
		return false, nil
	}
	a.RolledBackAt = &at
	a.UpdatedAt = time.Now().UTC()
	s.actions[key] = a
	return true, nil
}
