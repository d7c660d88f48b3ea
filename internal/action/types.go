// Package action implements the gated-mutation state machine. Every
// state change in the system, whether requested directly, dispatched
// by a workflow, or materialized from a plan step, converges here.
package action

import (
	"time"

	"github.com/knossys/conductor/internal/oerr"
	"github.com/knossys/conductor/internal/target"
)

// Type is the closed set of mutation kinds. Dispatch on it is an
// exhaustive switch; adding a kind is a compile-surface event, not a
// silently-ignored default branch.
type Type string

const (
	TypeCreate   Type = "create"
	TypeUpdate   Type = "update"
	TypeDelete   Type = "delete"
	TypeLink     Type = "link"
	TypeNotify   Type = "notify"
	TypeSchedule Type = "schedule"
)

// ParseType validates an action type against the closed set.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeCreate, TypeUpdate, TypeDelete, TypeLink, TypeNotify, TypeSchedule:
		return t, nil
	default:
		return "", oerr.Validationf("actionType", "unknown action type %q", s)
	}
}

// Status is the action lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusRolledBack, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo encodes the transition table. Anything not listed
// here must fail with a StateTransitionError.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusExecuted || next == StatusFailed
	case StatusExecuted:
		return next == StatusRolledBack
	default:
		return false
	}
}

// Result is the structured outcome of an execution attempt. Failures
// are recorded here rather than surfaced as hard errors so partial
// plan and workflow progress stays inspectable.
type Result struct {
	Success  bool          `json:"success"`
	TargetID string        `json:"target_id,omitempty"`
	Record   target.Record `json:"record,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Action is a single gated mutation request against a target resource.
type Action struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	UserID           string         `json:"user_id"`
	Type             Type           `json:"action_type"`
	TargetType       target.Type    `json:"target_type"`
	TargetID         string         `json:"target_id,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	RequiresApproval bool           `json:"requires_approval"`
	Status           Status         `json:"status"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	RejectedReason   string         `json:"rejected_reason,omitempty"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
	RolledBackAt     *time.Time     `json:"rolled_back_at,omitempty"`
	// PriorState is the target snapshot captured immediately before
	// the mutation. nil means not captured (rollback unavailable);
	// an empty snapshot means the record did not exist.
	PriorState target.Record `json:"prior_state,omitempty"`
	Result     *Result       `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Filter narrows List results.
type Filter struct {
	Status *Status
	Type   *Type
	Limit  int
}
