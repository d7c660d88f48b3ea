// Package plan resolves AI-generated multi-step plans into ordered
// action execution. A plan is a DAG over steps; each step materializes
// as one action when its dependencies complete.
package plan

import (
	"fmt"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// Status is the plan lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the plan can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus is the per-step state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	// StepSkipped marks a step whose dependency failed. Independent
	// branches keep running; skipping maximizes partial completion.
	StepSkipped StepStatus = "skipped"
)

// Step is one node in the plan DAG. StepOrder is unique within the
// plan and Dependencies reference other steps by it.
type Step struct {
	StepOrder    int            `json:"step_order"`
	ActionType   string         `json:"action_type"`
	TargetType   string         `json:"target_type"`
	TargetID     string         `json:"target_id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Dependencies []int          `json:"dependencies,omitempty"`
	Description  string         `json:"description,omitempty"`
	Status       StepStatus     `json:"status"`
	ActionID     string         `json:"action_id,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Plan is an ordered, dependency-annotated set of actions generated
// from a natural-language request.
type Plan struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Request     string    `json:"request"`
	Steps       []Step    `json:"steps"`
	Status      Status    `json:"status"`
	Errors      []string  `json:"errors,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateSteps checks stepOrder uniqueness, dependency references and
// acyclicity. The cycle check is a Kahn pass over an adjacency list
// keyed by step index; no recursion.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return oerr.Validationf("steps", "a plan needs at least one step")
	}
	index := make(map[int]int, len(steps)) // stepOrder -> slice index
	for i, s := range steps {
		if _, dup := index[s.StepOrder]; dup {
			return oerr.Validationf("steps", "duplicate step order %d", s.StepOrder)
		}
		index[s.StepOrder] = i
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if dep == s.StepOrder {
				return oerr.Validationf("dependencies", "step %d depends on itself", s.StepOrder)
			}
			if _, ok := index[dep]; !ok {
				return oerr.Validationf("dependencies", "step %d depends on unknown step %d", s.StepOrder, dep)
			}
		}
	}
	if _, err := topoOrder(steps, index); err != nil {
		return err
	}
	return nil
}

// topoOrder returns slice indices in dependency order.
func topoOrder(steps []Step, index map[int]int) ([]int, error) {
	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps)) // index -> indices depending on it
	for i, s := range steps {
		indegree[i] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			j := index[dep]
			dependents[j] = append(dependents[j], i)
		}
	}

	// Seed with ready steps, lowest stepOrder first for determinism.
	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	sortByStepOrder(steps, queue)

	var order []int
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
		sortByStepOrder(steps, queue)
	}
	if len(order) != len(steps) {
		return nil, fmt.Errorf("plan has %d steps in a dependency loop: %w", len(steps)-len(order), oerr.ErrCyclicPlan)
	}
	return order, nil
}

func sortByStepOrder(steps []Step, idx []int) {
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && steps[idx[j]].StepOrder < steps[idx[j-1]].StepOrder; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
}
