package taskgraph

import (
	"context"
	"database/sql"
	"time"
)

// PGStore persists edges in Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(ctx context.Context, db *sql.DB) (*PGStore, error) {
	s := &PGStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
create table if not exists conductor_task_dependencies (
  tenant_id text not null,
  blocker_id text not null,
  blocked_id text not null,
  created_at timestamptz not null,
  primary key (tenant_id, blocker_id, blocked_id)
);
create index if not exists conductor_task_dependencies_blocked
  on conductor_task_dependencies (tenant_id, blocked_id);
`)
	return err
}

func (s *PGStore) AddEdge(ctx context.Context, tenantID, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `insert into conductor_task_dependencies (tenant_id, blocker_id, blocked_id, created_at)
values ($1,$2,$3,$4) on conflict do nothing`, tenantID, blockerID, blockedID, time.Now().UTC())
	return err
}

func (s *PGStore) RemoveEdge(ctx context.Context, tenantID, blockerID, blockedID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `delete from conductor_task_dependencies
where tenant_id=$1 and blocker_id=$2 and blocked_id=$3`, tenantID, blockerID, blockedID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PGStore) BlockersOf(ctx context.Context, tenantID, taskID string) ([]string, error) {
	return s.column(ctx, `select blocker_id from conductor_task_dependencies
where tenant_id=$1 and blocked_id=$2`, tenantID, taskID)
}

func (s *PGStore) DependentsOf(ctx context.Context, tenantID, taskID string) ([]string, error) {
	return s.column(ctx, `select blocked_id from conductor_task_dependencies
where tenant_id=$1 and blocker_id=$2`, tenantID, taskID)
}

func (s *PGStore) column(ctx context.Context, query, tenantID, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
