package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// PGStore persists actions in Postgres. Status, executed_at and
// rolled_back_at live in typed columns so the claim operations are
// single conditional UPDATEs; the remaining fields ride in a jsonb
// payload.
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
create table if not exists conductor_actions (
  id text not null,
  tenant_id text not null,
  status text not null,
  action_type text not null,
  executed_at timestamptz,
  rolled_back_at timestamptz,
  payload jsonb not null,
  created_at timestamptz not null,
  updated_at timestamptz not null,
  primary key (tenant_id, id)
);
create index if not exists conductor_actions_status
  on conductor_actions (tenant_id, status, created_at desc);
`)
	return err
}

func (s *PGStore) Create(ctx context.Context, a Action) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `insert into conductor_actions
(id, tenant_id, status, action_type, executed_at, rolled_back_at, payload, created_at, updated_at)
values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.TenantID, a.Status, a.Type, a.ExecutedAt, a.RolledBackAt, payload, a.CreatedAt, a.UpdatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, tenantID, id string) (Action, error) {
	row := s.db.QueryRowContext(ctx, `select status, executed_at, rolled_back_at, payload
from conductor_actions where tenant_id=$1 and id=$2`, tenantID, id)
	return scanAction(row, id)
}

func scanAction(row *sql.Row, id string) (Action, error) {
	var status string
	var executedAt, rolledBackAt sql.NullTime
	var payload []byte
	if err := row.Scan(&status, &executedAt, &rolledBackAt, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Action{}, fmt.Errorf("action %s: %w", id, oerr.ErrNotFound)
		}
		return Action{}, err
	}
	var a Action
	if err := json.Unmarshal(payload, &a); err != nil {
		return Action{}, err
	}
	// Typed columns win over the payload copy; claims update them
	// without rewriting the payload.
	a.Status = Status(status)
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	if rolledBackAt.Valid {
		t := rolledBackAt.Time
		a.RolledBackAt = &t
	}
	return a, nil
}

func (s *PGStore) Update(ctx context.Context, a Action) error {
	a.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update conductor_actions
set status=$3, executed_at=$4, rolled_back_at=$5, payload=$6, updated_at=$7
where tenant_id=$1 and id=$2`,
		a.TenantID, a.ID, a.Status, a.ExecutedAt, a.RolledBackAt, payload, a.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("action %s: %w", a.ID, oerr.ErrNotFound)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, tenantID string, f Filter) ([]Action, error) {
	query := `select payload, status, executed_at, rolled_back_at from conductor_actions where tenant_id=$1`
	args := []any{tenantID}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" and status=$%d", len(args))
	}
	if f.Type != nil {
		args = append(args, string(*f.Type))
		query += fmt.Sprintf(" and action_type=$%d", len(args))
	}
	query += " order by created_at desc"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		var payload []byte
		var status string
		var executedAt, rolledBackAt sql.NullTime
		if err := rows.Scan(&payload, &status, &executedAt, &rolledBackAt); err != nil {
			return nil, err
		}
		var a Action
		if err := json.Unmarshal(payload, &a); err != nil {
			return nil, err
		}
		a.Status = Status(status)
		if executedAt.Valid {
			t := executedAt.Time
			a.ExecutedAt = &t
		}
		if rolledBackAt.Valid {
			t := rolledBackAt.Time
			a.RolledBackAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PGStore) Transition(ctx context.Context, tenantID, id string, from, to Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update conductor_actions
set status=$4, updated_at=$5
where tenant_id=$1 and id=$2 and status=$3`,
		tenantID, id, from, to, time.Now().UTC())
	return oneRow(res, err)
}

func (s *PGStore) ClaimExecution(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update conductor_actions
set executed_at=$3, updated_at=$4
where tenant_id=$1 and id=$2 and status=$5 and executed_at is null`,
		tenantID, id, at, time.Now().UTC(), StatusApproved)
	return oneRow(res, err)
}

func (s *PGStore) ClaimRollback(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `update conductor_actions
set rolled_back_at=$3, updated_at=$4
where tenant_id=$1 and id=$2 and status=$5 and rolled_back_at is null`,
		tenantID, id, at, time.Now().UTC(), StatusExecuted)
	return oneRow(res, err)
}

func oneRow(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
