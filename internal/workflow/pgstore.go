package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knossys/conductor/internal/oerr"
)

// PGStore persists workflows as jsonb payloads. Priority and enabled
// are typed columns so listing stays an indexed query.
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
create table if not exists conductor_workflows (
  id text not null,
  tenant_id text not null,
  enabled boolean not null,
  priority int not null,
  trigger_type text not null,
  payload jsonb not null,
  created_at timestamptz not null,
  updated_at timestamptz not null,
  primary key (tenant_id, id)
);
create index if not exists conductor_workflows_enabled
  on conductor_workflows (tenant_id, enabled, priority desc, id asc);
`)
	return err
}

func (s *PGStore) Create(ctx context.Context, w Workflow) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `insert into conductor_workflows
(id, tenant_id, enabled, priority, trigger_type, payload, created_at, updated_at)
values ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.TenantID, w.Enabled, w.Priority, w.Trigger.Type, payload, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *PGStore) Get(ctx context.Context, tenantID, id string) (Workflow, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `select payload from conductor_workflows where tenant_id=$1 and id=$2`,
		tenantID, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workflow{}, fmt.Errorf("workflow %s: %w", id, oerr.ErrNotFound)
		}
		return Workflow{}, err
	}
	var w Workflow
	if err := json.Unmarshal(payload, &w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

func (s *PGStore) Update(ctx context.Context, w Workflow) error {
	w.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `update conductor_workflows
set enabled=$3, priority=$4, trigger_type=$5, payload=$6, updated_at=$7
where tenant_id=$1 and id=$2`,
		w.TenantID, w.ID, w.Enabled, w.Priority, w.Trigger.Type, payload, w.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, oerr.ErrNotFound)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from conductor_workflows where tenant_id=$1 and id=$2`,
		tenantID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, oerr.ErrNotFound)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, tenantID string, enabledOnly bool) ([]Workflow, error) {
	query := `select payload from conductor_workflows where tenant_id=$1`
	if enabledOnly {
		query += ` and enabled`
	}
	query += ` order by priority desc, id asc`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Workflow
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var w Workflow
		if err := json.Unmarshal(payload, &w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
