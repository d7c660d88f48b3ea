package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/config"
	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/taskgraph"
	"github.com/knossys/conductor/internal/workflow"
)

type Server struct {
	cfg       config.Config
	logger    *zap.Logger
	actions   *action.Executor
	plans     *plan.Executor
	workflows *workflow.Service
	engine    *workflow.Engine
	graph     *taskgraph.Service
	srv       *http.Server
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(NewServer),
		fx.Invoke(RegisterHooks),
	)
}

func NewServer(
	cfg config.Config,
	logger *zap.Logger,
	actions *action.Executor,
	plans *plan.Executor,
	workflows *workflow.Service,
	engine *workflow.Engine,
	graph *taskgraph.Service,
) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		actions:   actions,
		plans:     plans,
		workflows: workflows,
		engine:    engine,
		graph:     graph,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.routes(), "conductor-http"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/actions", s.handleActionCreate)
	mux.HandleFunc("GET /v1/actions", s.handleActionList)
	mux.HandleFunc("GET /v1/actions/{id}", s.handleActionGet)
	mux.HandleFunc("POST /v1/actions/{id}/approve", s.handleActionApprove)
	mux.HandleFunc("POST /v1/actions/{id}/reject", s.handleActionReject)
	mux.HandleFunc("POST /v1/actions/{id}/execute", s.handleActionExecute)
	mux.HandleFunc("POST /v1/actions/{id}/rollback", s.handleActionRollback)

	mux.HandleFunc("POST /v1/plans/generate", s.handlePlanGenerate)
	mux.HandleFunc("POST /v1/plans", s.handlePlanCreate)
	mux.HandleFunc("GET /v1/plans", s.handlePlanList)
	mux.HandleFunc("GET /v1/plans/{id}", s.handlePlanGet)
	mux.HandleFunc("PUT /v1/plans/{id}/steps", s.handlePlanUpdateSteps)
	mux.HandleFunc("PUT /v1/plans/{id}/status", s.handlePlanUpdateStatus)
	mux.HandleFunc("POST /v1/plans/{id}/execute", s.handlePlanExecute)

	mux.HandleFunc("POST /v1/workflows", s.handleWorkflowCreate)
	mux.HandleFunc("GET /v1/workflows", s.handleWorkflowList)
	mux.HandleFunc("GET /v1/workflows/{id}", s.handleWorkflowGet)
	mux.HandleFunc("PATCH /v1/workflows/{id}", s.handleWorkflowUpdate)
	mux.HandleFunc("DELETE /v1/workflows/{id}", s.handleWorkflowDelete)
	mux.HandleFunc("POST /v1/workflows/{id}/execute", s.handleWorkflowExecute)

	mux.HandleFunc("POST /v1/events", s.handleEvent)

	mux.HandleFunc("POST /v1/tasks/{id}/dependencies", s.handleDependencyAdd)
	mux.HandleFunc("DELETE /v1/tasks/{id}/dependencies/{depId}", s.handleDependencyRemove)
	mux.HandleFunc("POST /v1/tasks/{id}/reconcile", s.handleReconcileParent)

	return mux
}

func RegisterHooks(lc fx.Lifecycle, server *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			server.logger.Info("http server starting", zap.String("addr", server.srv.Addr))
			go func() {
				if err := server.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					server.logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			server.logger.Info("http server stopping")
			return server.srv.Shutdown(shutdownCtx)
		},
	})
}
