package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/knossys/conductor/internal/action"
	"github.com/knossys/conductor/internal/cli"
	"github.com/knossys/conductor/internal/config"
	"github.com/knossys/conductor/internal/grpcserver"
	"github.com/knossys/conductor/internal/httpserver"
	"github.com/knossys/conductor/internal/logging"
	"github.com/knossys/conductor/internal/otel"
	"github.com/knossys/conductor/internal/plan"
	"github.com/knossys/conductor/internal/planner"
	"github.com/knossys/conductor/internal/scheduler"
	"github.com/knossys/conductor/internal/storage"
	"github.com/knossys/conductor/internal/target"
	"github.com/knossys/conductor/internal/taskgraph"
	"github.com/knossys/conductor/internal/workflow"
)

func main() {
	rootCmd := cli.NewRootCommand()

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		startServer(configPath)
		return nil
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startServer(configPath string) {
	app := fx.New(
		config.Module(configPath),
		logging.Module("conductor"),
		otel.Module("conductor"),
		storage.Module(),
		domainModule(),
		grpcserver.Module,
		httpserver.Module(),
		scheduler.Module(),
	)

	app.Run()
}

// domainModule wires the orchestration core: target repository, task
// graph, action executor, plan executor and workflow engine.
func domainModule() fx.Option {
	return fx.Provide(
		fx.Annotate(
			target.NewMemoryRepository,
			fx.As(new(target.Repository)),
		),
		fx.Annotate(
			taskgraph.NewRecordStatuses,
			fx.As(new(taskgraph.Statuses)),
		),
		taskgraph.NewService,
		action.NewExecutor,
		newPlanner,
		plan.NewExecutor,
		workflow.NewService,
		workflow.NewEngine,
	)
}

func newPlanner(cfg config.Config, logger *zap.Logger) plan.Planner {
	client := planner.NewClient(cfg.Planner.Endpoint, logger)
	return planner.NewFallback(client, logger)
}
