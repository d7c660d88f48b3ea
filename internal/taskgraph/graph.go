// Package taskgraph maintains blocks/blocked_by edges between tasks
// and cascades status changes across them.
package taskgraph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/oerr"
)

// Task statuses as stored on admin records.
const (
	StatusTodo       = "Todo"
	StatusInProgress = "In Progress"
	StatusBlocked    = "Blocked"
	StatusDone       = "Done"
)

// DependencyType orients an edge relative to the task it is declared on.
type DependencyType string

const (
	// DependencyBlocks: the task blocks the other task.
	DependencyBlocks DependencyType = "blocks"
	// DependencyBlockedBy: the task is blocked by the other task.
	DependencyBlockedBy DependencyType = "blocked_by"
)

// Dependency is a directed constraint between two tasks.
type Dependency struct {
	TaskID          string         `json:"task_id"`
	DependsOnTaskID string         `json:"depends_on_task_id"`
	Type            DependencyType `json:"dependency_type"`
}

// Statuses is the task-status mutation surface the graph cascades
// through. Tasks live in the admin record store; the adapter is wired
// by the caller.
type Statuses interface {
	Status(ctx context.Context, tenantID, taskID string) (string, error)
	SetStatus(ctx context.Context, tenantID, taskID, status string) error
}

// Store persists normalized edges (blocker -> blocked).
type Store interface {
	AddEdge(ctx context.Context, tenantID, blockerID, blockedID string) error
	RemoveEdge(ctx context.Context, tenantID, blockerID, blockedID string) (bool, error)
	// BlockersOf returns the tasks blocking taskID.
	BlockersOf(ctx context.Context, tenantID, taskID string) ([]string, error)
	// DependentsOf returns the tasks blocked by taskID.
	DependentsOf(ctx context.Context, tenantID, taskID string) ([]string, error)
}

// Service runs cycle checks before inserts and propagates status.
type Service struct {
	store    Store
	statuses Statuses
	logger   *zap.Logger
}

func NewService(store Store, statuses Statuses, logger *zap.Logger) *Service {
	return &Service{store: store, statuses: statuses, logger: logger}
}

// normalize maps a declared dependency onto a blocker -> blocked edge.
func normalize(dep Dependency) (blocker, blocked string, err error) {
	switch dep.Type {
	case DependencyBlockedBy:
		return dep.DependsOnTaskID, dep.TaskID, nil
	case DependencyBlocks:
		return dep.TaskID, dep.DependsOnTaskID, nil
	default:
		return "", "", oerr.Validationf("dependencyType", "unknown dependency type %q", dep.Type)
	}
}

// AddDependency inserts an edge after rejecting self-references and
// edges that would close a cycle. The graph is left unchanged when the
// check fails.
func (s *Service) AddDependency(ctx context.Context, tenantID string, dep Dependency) error {
	if dep.TaskID == "" || dep.DependsOnTaskID == "" {
		return oerr.Validationf("taskId", "both task ids are required")
	}
	if dep.TaskID == dep.DependsOnTaskID {
		return oerr.Validationf("dependsOnTaskId", "a task cannot depend on itself")
	}
	blocker, blocked, err := normalize(dep)
	if err != nil {
		return err
	}
	reachable, err := s.reaches(ctx, tenantID, blocked, blocker)
	if err != nil {
		return err
	}
	if reachable {
		return fmt.Errorf("%s -> %s: %w", dep.TaskID, dep.DependsOnTaskID, oerr.ErrCyclicDependency)
	}
	if err := s.store.AddEdge(ctx, tenantID, blocker, blocked); err != nil {
		return err
	}
	s.logger.Debug("dependency added",
		zap.String("tenant", tenantID),
		zap.String("blocker", blocker),
		zap.String("blocked", blocked),
	)
	return nil
}

// RemoveDependency deletes the edge between two tasks regardless of
// the orientation it was declared with.
func (s *Service) RemoveDependency(ctx context.Context, tenantID, taskID, dependsOnTaskID string) error {
	removed, err := s.store.RemoveEdge(ctx, tenantID, dependsOnTaskID, taskID)
	if err != nil {
		return err
	}
	if !removed {
		removed, err = s.store.RemoveEdge(ctx, tenantID, taskID, dependsOnTaskID)
		if err != nil {
			return err
		}
	}
	if !removed {
		return fmt.Errorf("dependency %s -> %s: %w", taskID, dependsOnTaskID, oerr.ErrNotFound)
	}
	return nil
}

// reaches walks blocker edges iteratively (explicit stack, no
// recursion) and reports whether from can already reach to.
func (s *Service) reaches(ctx context.Context, tenantID, from, to string) (bool, error) {
	stack := []string{from}
	seen := map[string]bool{from: true}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true, nil
		}
		next, err := s.store.DependentsOf(ctx, tenantID, cur)
		if err != nil {
			return false, err
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return false, nil
}

// OnStatusChanged cascades a completed task: every dependent that is
// Blocked and whose blockers are now all Done moves to Todo.
func (s *Service) OnStatusChanged(ctx context.Context, tenantID, taskID, newStatus string) error {
	if newStatus != StatusDone {
		return nil
	}
	dependents, err := s.store.DependentsOf(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		status, err := s.statuses.Status(ctx, tenantID, dep)
		if err != nil {
			return err
		}
		if status != StatusBlocked {
			continue
		}
		clear, err := s.allBlockersDone(ctx, tenantID, dep)
		if err != nil {
			return err
		}
		if !clear {
			continue
		}
		if err := s.statuses.SetStatus(ctx, tenantID, dep, StatusTodo); err != nil {
			return err
		}
		s.logger.Info("task unblocked",
			zap.String("tenant", tenantID),
			zap.String("task", dep),
			zap.String("completed_blocker", taskID),
		)
	}
	return nil
}

func (s *Service) allBlockersDone(ctx context.Context, tenantID, taskID string) (bool, error) {
	blockers, err := s.store.BlockersOf(ctx, tenantID, taskID)
	if err != nil {
		return false, err
	}
	for _, b := range blockers {
		status, err := s.statuses.Status(ctx, tenantID, b)
		if err != nil {
			return false, err
		}
		if status != StatusDone {
			return false, nil
		}
	}
	return true, nil
}

// ReconcileParent derives a parent task's status from its sub-tasks
// with precedence Blocked > In Progress > Done. When no rule matches
// the parent is left unchanged. Returns the status applied, or "".
func (s *Service) ReconcileParent(ctx context.Context, tenantID, parentID string, subtaskIDs []string) (string, error) {
	if len(subtaskIDs) == 0 {
		return "", nil
	}
	var anyBlocked, anyInProgress bool
	allDone := true
	for _, id := range subtaskIDs {
		status, err := s.statuses.Status(ctx, tenantID, id)
		if err != nil {
			return "", err
		}
		switch status {
		case StatusBlocked:
			anyBlocked = true
			allDone = false
		case StatusInProgress:
			anyInProgress = true
			allDone = false
		case StatusDone:
		default:
			allDone = false
		}
	}

	var derived string
	switch {
	case anyBlocked:
		derived = StatusBlocked
	case anyInProgress:
		derived = StatusInProgress
	case allDone:
		derived = StatusDone
	default:
		return "", nil
	}

	current, err := s.statuses.Status(ctx, tenantID, parentID)
	if err != nil {
		return "", err
	}
	if current == derived {
		return derived, nil
	}
	if err := s.statuses.SetStatus(ctx, tenantID, parentID, derived); err != nil {
		return "", err
	}
	return derived, nil
}
