package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// PGStore persists plans as jsonb payloads with typed columns for the
// fields queries filter on.
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
create table if not exists conductor_plans (
  id text not null,
  tenant_id text not null,
  status text not null,
  payload jsonb not null,
  created_at timestamptz not null,
  updated_at timestamptz not null,
  primary key (tenant_id, id)
);
`)
	return err
}

func (s *PGStore) Create(ctx context.Context, p Plan) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `insert into conductor_plans (id, tenant_id, status, payload, created_at, updated_at)
values ($1,$2,$3,$4,$5,$6)`, p.ID, p.TenantID, p.Status, payload, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, tenantID, id string) (Plan, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `select payload from conductor_plans where tenant_id=$1 and id=$2`,
		tenantID, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, fmt.Errorf("plan %s: %w", id, oerr.ErrNotFound)
		}
		return Plan{}, err
	}
	var p Plan
	if err := json.Unmarshal(payload, &p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (s *PGStore) Update(ctx context.Context, p Plan) error {
	p.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update conductor_plans set status=$3, payload=$4, updated_at=$5
where tenant_id=$1 and id=$2`, p.TenantID, p.ID, p.Status, payload, p.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("plan %s: %w", p.ID, oerr.ErrNotFound)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, tenantID string, limit int) ([]Plan, error) {
	query := `select payload from conductor_plans where tenant_id=$1 order by created_at desc`
	args := []any{tenantID}
	if limit > 0 {
		args = append(args, limit)
		query += " limit $2"
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Plan
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p Plan
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
