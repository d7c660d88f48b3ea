// Package target defines the repository contract the action executor
// mutates through. The real implementations live in the surrounding
// backend (people/projects/ideas/admin storage); this package carries
// the contract plus an in-memory implementation used for wiring
// single-binary deployments and tests.
package target

import (
	"context"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// Type is the closed set of record kinds an action may mutate.
type Type string

const (
	TypePerson  Type = "person"
	TypeProject Type = "project"
	TypeIdea    Type = "idea"
	TypeAdmin   Type = "admin"
)

// ParseType validates a target type against the closed set.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePerson, TypeProject, TypeIdea, TypeAdmin:
		return t, nil
	default:
		return "", oerr.Validationf("targetType", "unknown target type %q", s)
	}
}

// Record is a tenant-scoped business record. Field semantics belong to
// the owning repository; the orchestration core treats records as
// opaque field sets it can snapshot and re-apply.
type Record map[string]any

// Clone returns a shallow copy so prior-state snapshots do not alias
// live records.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Ref addresses one record.
type Ref struct {
	Type Type
	ID   string
}

// Notification is a queued user notification or reminder.
type Notification struct {
	ID       string
	TenantID string
	UserID   string
	Message  string
	RemindAt *time.Time
	Voided   bool
}

// ScheduleEntry is a pending scheduled item (calendar hold, follow-up).
type ScheduleEntry struct {
	ID        string
	TenantID  string
	Subject   string
	At        time.Time
	Cancelled bool
}

// Repository exposes the mutation surface the executor dispatches to.
// CreateWithID exists so rollback of a delete can restore the record
// under its original identifier.
type Repository interface {
	Get(ctx context.Context, tenantID string, t Type, id string) (Record, error)
	Create(ctx context.Context, tenantID string, t Type, data Record) (string, error)
	CreateWithID(ctx context.Context, tenantID string, t Type, id string, data Record) error
	Update(ctx context.Context, tenantID string, t Type, id string, fields Record) (Record, error)
	Delete(ctx context.Context, tenantID string, t Type, id string) error

	Link(ctx context.Context, tenantID string, from, to Ref, relation string) error
	Unlink(ctx context.Context, tenantID string, from, to Ref, relation string) error

	Notify(ctx context.Context, tenantID, userID, message string, remindAt *time.Time) (string, error)
	VoidNotification(ctx context.Context, tenantID, id string) error

	Schedule(ctx context.Context, tenantID, subject string, at time.Time) (string, error)
	CancelSchedule(ctx context.Context, tenantID, id string) error
}
