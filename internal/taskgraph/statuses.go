package taskgraph

import (
	"context"
	"fmt"

	"github.com/knossys/conductor/internal/target"
)

// RecordStatuses reads and writes the status field of admin task
// records.
type RecordStatuses struct {
	targets target.Repository
}

func NewRecordStatuses(targets target.Repository) *RecordStatuses {
	return &RecordStatuses{targets: targets}
}

func (r *RecordStatuses) Status(ctx context.Context, tenantID, taskID string) (string, error) {
	rec, err := r.targets.Get(ctx, tenantID, target.TypeAdmin, taskID)
	if err != nil {
		return "", err
	}
	status, ok := rec["status"].(string)
	if !ok {
		return "", fmt.Errorf("task %s has no status field", taskID)
	}
	return status, nil
}

func (r *RecordStatuses) SetStatus(ctx context.Context, tenantID, taskID, status string) error {
	_, err := r.targets.Update(ctx, tenantID, target.TypeAdmin, taskID, target.Record{"status": status})
	return err
}
