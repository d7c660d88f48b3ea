// Package workflow matches declarative triggers and conditions against
// item-lifecycle events and dispatches pre-approved actions.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TriggerType classifies what kind of event fires a workflow.
type TriggerType string

const (
	TriggerItemCreated   TriggerType = "item_created"
	TriggerItemUpdated   TriggerType = "item_updated"
	TriggerItemDeleted   TriggerType = "item_deleted"
	TriggerStatusChanged TriggerType = "status_changed"
	TriggerScheduled     TriggerType = "scheduled"
)

func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(s); t {
	case TriggerItemCreated, TriggerItemUpdated, TriggerItemDeleted, TriggerStatusChanged, TriggerScheduled:
		return t, nil
	default:
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
}

// Operator compares an item field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
)

// Condition is one field comparison. Conditions on a workflow are
// AND-combined.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Matches evaluates the condition against item data. A missing field
// never matches. Numeric comparisons coerce both sides to float64;
// contains is a case-insensitive substring check.
func (c Condition) Matches(data map[string]any) bool {
	got, ok := data[c.Field]
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEquals:
		return looseEqual(got, c.Value)
	case OpNotEquals:
		return !looseEqual(got, c.Value)
	case OpGreaterThan:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(got)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	case OpContains:
		return strings.Contains(
			strings.ToLower(fmt.Sprint(got)),
			strings.ToLower(fmt.Sprint(c.Value)),
		)
	default:
		return false
	}
}

// looseEqual compares across JSON number representations, so a stored
// int matches a decoded float64.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Schedule drives scheduled triggers: either a one-shot At or a
// repeating interval.
type Schedule struct {
	At           *time.Time `json:"at,omitempty"`
	EverySeconds int64      `json:"every_seconds,omitempty"`
}

// Trigger describes when a workflow fires.
type Trigger struct {
	Type       TriggerType `json:"type"`
	ItemType   string      `json:"item_type,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Schedule   *Schedule   `json:"schedule,omitempty"`
}

// ActionTemplate is instantiated as an action when the workflow fires.
// An empty TargetID resolves to the event's item id at dispatch time.
type ActionTemplate struct {
	ActionType string         `json:"action_type"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Workflow is a declarative automation rule.
type Workflow struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Trigger     Trigger          `json:"trigger"`
	Actions     []ActionTemplate `json:"actions"`
	Priority    int              `json:"priority"`
	Enabled     bool             `json:"enabled"`
	LastRunAt   *time.Time       `json:"last_run_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Due reports whether a scheduled workflow should fire at now. Pure;
// the scheduler collaborator supplies the clock.
func (w Workflow) Due(now time.Time) bool {
	if w.Trigger.Type != TriggerScheduled || !w.Enabled || w.Trigger.Schedule == nil {
		return false
	}
	s := w.Trigger.Schedule
	if s.At != nil {
		return w.LastRunAt == nil && !now.Before(*s.At)
	}
	if s.EverySeconds > 0 {
		if w.LastRunAt == nil {
			return true
		}
		return now.Sub(*w.LastRunAt) >= time.Duration(s.EverySeconds)*time.Second
	}
	return false
}

// Event is one item-lifecycle occurrence fed to the engine.
type Event struct {
	Type         TriggerType    `json:"type"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	ItemType     string         `json:"item_type"`
	ItemID       string         `json:"item_id"`
	ItemData     map[string]any `json:"item_data"`
	PreviousData map[string]any `json:"previous_data,omitempty"`
}
