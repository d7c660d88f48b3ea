package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knossys/conductor/internal/oerr"
)

type recordKey struct {
	tenant string
	t      Type
	id     string
}

type linkKey struct {
	tenant   string
	from, to Ref
	relation string
}

// MemoryRepository is the in-process Repository. All maps are keyed by
// tenant so nothing leaks across tenants.
type MemoryRepository struct {
	mu            sync.RWMutex
	records       map[recordKey]Record
	creations     []recordKey
	links         map[linkKey]struct{}
	notifications map[string]*Notification
	schedules     map[string]*ScheduleEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:       map[recordKey]Record{},
		links:         map[linkKey]struct{}{},
		notifications: map[string]*Notification{},
		schedules:     map[string]*ScheduleEntry{},
	}
}

func (m *MemoryRepository) Get(_ context.Context, tenantID string, t Type, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{tenant: tenantID, t: t, id: id}]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t, id, oerr.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (m *MemoryRepository) Create(_ context.Context, tenantID string, t Type, data Record) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{tenant: tenantID, t: t, id: id}
	m.records[key] = data.Clone()
	m.creations = append(m.creations, key)
	return id, nil
}

func (m *MemoryRepository) CreateWithID(_ context.Context, tenantID string, t Type, id string, data Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{tenant: tenantID, t: t, id: id}
	if _, exists := m.records[key]; exists {
		return oerr.Validationf("targetId", "%s %s already exists", t, id)
	}
	m.records[key] = data.Clone()
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, tenantID string, t Type, id string, fields Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{tenant: tenantID, t: t, id: id}
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", t, id, oerr.ErrNotFound)
	}
	updated := rec.Clone()
	for k, v := range fields {
		updated[k] = v
	}
	m.records[key] = updated
	return updated.Clone(), nil
}

func (m *MemoryRepository) Delete(_ context.Context, tenantID string, t Type, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{tenant: tenantID, t: t, id: id}
	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("%s %s: %w", t, id, oerr.ErrNotFound)
	}
	delete(m.records, key)
	return nil
}

func (m *MemoryRepository) Link(_ context.Context, tenantID string, from, to Ref, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range []Ref{from, to} {
		if _, ok := m.records[recordKey{tenant: tenantID, t: ref.Type, id: ref.ID}]; !ok {
			return fmt.Errorf("%s %s: %w", ref.Type, ref.ID, oerr.ErrNotFound)
		}
	}
	m.links[linkKey{tenant: tenantID, from: from, to: to, relation: relation}] = struct{}{}
	return nil
}

func (m *MemoryRepository) Unlink(_ context.Context, tenantID string, from, to Ref, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := linkKey{tenant: tenantID, from: from, to: to, relation: relation}
	if _, ok := m.links[key]; !ok {
		return fmt.Errorf("link %s->%s: %w", from.ID, to.ID, oerr.ErrNotFound)
	}
	delete(m.links, key)
	return nil
}

// Linked reports whether a relation exists. Used by tests and the
// workflow engine's condition fixtures.
func (m *MemoryRepository) Linked(tenantID string, from, to Ref, relation string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.links[linkKey{tenant: tenantID, from: from, to: to, relation: relation}]
	return ok
}

func (m *MemoryRepository) Notify(_ context.Context, tenantID, userID, message string, remindAt *time.Time) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[id] = &Notification{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
		Message:  message,
		RemindAt: remindAt,
	}
	return id, nil
}

func (m *MemoryRepository) VoidNotification(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.TenantID != tenantID {
		return fmt.Errorf("notification %s: %w", id, oerr.ErrNotFound)
	}
	n.Voided = true
	return nil
}

func (m *MemoryRepository) Schedule(_ context.Context, tenantID, subject string, at time.Time) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[id] = &ScheduleEntry{ID: id, TenantID: tenantID, Subject: subject, At: at}
	return id, nil
}

func (m *MemoryRepository) CancelSchedule(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return fmt.Errorf("schedule %s: %w", id, oerr.ErrNotFound)
	}
	s.Cancelled = true
	return nil
}

// Notification returns a notification by id, for inspection in tests.
func (m *MemoryRepository) Notification(id string) (Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return Notification{}, false
	}
	return *n, true
}

// CreationOrder returns the "name" field of records created through
// Create, oldest first, for inspection in tests.
func (m *MemoryRepository) CreationOrder(tenantID string, t Type) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, key := range m.creations {
		if key.tenant != tenantID || key.t != t {
			continue
		}
		if rec, ok := m.records[key]; ok {
			name, _ := rec["name"].(string)
			names = append(names, name)
		}
	}
	return names
}

// ScheduleByID returns a schedule entry by id, for inspection in tests.
func (m *MemoryRepository) ScheduleByID(id string) (ScheduleEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return ScheduleEntry{}, false
	}
	return *s, true
}
