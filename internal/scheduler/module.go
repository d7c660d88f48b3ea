// Package scheduler ticks scheduled workflows. The engine keeps a pure
// Due(now) predicate; this worker supplies the clock.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/config"
	"github.com/knossys/conductor/internal/workflow"
)

func Module() fx.Option {
	return fx.Invoke(register)
}

func register(lc fx.Lifecycle, cfg config.Config, engine *workflow.Engine, logger *zap.Logger) {
	interval := time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if interval <= 0 || len(cfg.Scheduler.Tenants) == 0 {
		logger.Info("scheduler disabled: no interval or tenants configured")
		return
	}
	w := &worker{
		engine:   engine,
		logger:   logger,
		interval: interval,
		tenants:  cfg.Scheduler.Tenants,
		now:      func() time.Time { return time.Now().UTC() },
	}
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, runCancel := context.WithCancel(context.Background())
			cancel = runCancel
			go w.run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

type worker struct {
	engine   *workflow.Engine
	logger   *zap.Logger
	interval time.Duration
	tenants  []string
	now      func() time.Time
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("scheduler started",
		zap.Duration("interval", w.interval),
		zap.Int("tenants", len(w.tenants)),
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *worker) tick(ctx context.Context) {
	now := w.now()
	for _, tenantID := range w.tenants {
		dispatches, err := w.engine.EvaluateDue(ctx, tenantID, now)
		if err != nil {
			w.logger.Warn("scheduled evaluation failed",
				zap.String("tenant", tenantID),
				zap.Error(err),
			)
			continue
		}
		if len(dispatches) > 0 {
			w.logger.Info("scheduled workflows fired",
				zap.String("tenant", tenantID),
				zap.Int("dispatches", len(dispatches)),
			)
		}
	}
}
