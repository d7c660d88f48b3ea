// Package storage selects the persistence backend. A configured DSN
// provides Postgres-backed stores over a shared connection pool; with
// no DSN everything runs in memory.
package storage

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/config"
	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/taskgraph"
	"github.com/knossys/conductor/internal/workflow"
)

// Stores bundles the per-aggregate stores for injection.
type Stores struct {
	fx.Out

	Actions   action.Store
	Plans     plan.Store
	Workflows workflow.Store
	TaskGraph taskgraph.Store
}

func Module() fx.Option {
	return fx.Provide(NewStores)
}

func NewStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Stores, error) {
	if cfg.Storage.DSN == "" {
		logger.Info("storage: using in-memory stores")
		return Stores{
			Actions:   action.NewMemoryStore(),
			Plans:     plan.NewMemoryStore(),
			Workflows: workflow.NewMemoryStore(),
			TaskGraph: taskgraph.NewMemoryStore(),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.Storage.DSN)
	if err != nil {
		return Stores{}, err
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return Stores{}, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})

	actions, err := action.NewPGStore(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	plans, err := plan.NewPGStore(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	workflows, err := workflow.NewPGStore(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	graph, err := taskgraph.NewPGStore(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	logger.Info("storage: postgres stores ready")
	return Stores{
		Actions:   actions,
		Plans:     plans,
		Workflows: workflows,
		TaskGraph: graph,
	}, nil
}
