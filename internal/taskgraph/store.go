package taskgraph

import (
	"context"
	"sync"
)

type edgeKey struct {
	tenant  string
	blocker string
	blocked string
}

// MemoryStore keeps edges in forward and reverse adjacency maps.
type MemoryStore struct {
	mu       sync.RWMutex
	edges    map[edgeKey]struct{}
	forward  map[string]map[string][]string // tenant -> blocker -> blocked
	backward map[string]map[string][]string // tenant -> blocked -> blockers
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges:    map[edgeKey]struct{}{},
		forward:  map[string]map[string][]string{},
		backward: map[string]map[string][]string{},
	}
}

func (s *MemoryStore) AddEdge(_ context.Context, tenantID, blockerID, blockedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{tenant: tenantID, blocker: blockerID, blocked: blockedID}
	if _, exists := s.edges[key]; exists {
		return nil
	}
	s.edges[key] = struct{}{}
	if s.forward[tenantID] == nil {
		s.forward[tenantID] = map[string][]string{}
		s.backward[tenantID] = map[string][]string{}
	}
	s.forward[tenantID][blockerID] = append(s.forward[tenantID][blockerID], blockedID)
	s.backward[tenantID][blockedID] = append(s.backward[tenantID][blockedID], blockerID)
	return nil
}

func (s *MemoryStore) RemoveEdge(_ context.Context, tenantID, blockerID, blockedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := edgeKey{tenant: tenantID, blocker: blockerID, blocked: blockedID}
	if _, exists := s.edges[key]; !exists {
		return false, nil
	}
	delete(s.edges, key)
	s.forward[tenantID][blockerID] = remove(s.forward[tenantID][blockerID], blockedID)
	s.backward[tenantID][blockedID] = remove(s.backward[tenantID][blockedID], blockerID)
	return true, nil
}

func (s *MemoryStore) BlockersOf(_ context.Context, tenantID, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.backward[tenantID][taskID]...), nil
}

func (s *MemoryStore) DependentsOf(_ context.Context, tenantID, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.forward[tenantID][taskID]...), nil
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
