package main

import (
	"context"
	"time"

	"github.com/smallbiznis/sequencer/internal/config"
	"github.com/smallbiznis/sequencer/internal/migration"
	"github.com/smallbiznis/sequencer/internal/observability"
	"github.com/smallbiznis/sequencer/internal/ratelimit"
	"github.com/smallbiznis/sequencer/internal/scheduler"
	"github.com/smallbiznis/sequencer/internal/server"
	"github.com/smallbiznis/sequencer/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sequencer",
		Short:         "CRM sequencing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newAPICmd(),
		newSchedulerCmd(),
		newMigrateCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler in one process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(),
				infrastructure(),
				domains(),
				scheduler.Module,
				server.Module,
			)
		},
	}
}

func newAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run the HTTP API only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(),
				infrastructure(),
				domains(),
				server.Module,
			)
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduler loop without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(),
				infrastructure(),
				withScheduler(),
				domains(),
				fx.Provide(ratelimit.NewLocker),
				scheduler.Module,
			)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			app := fx.New(
				config.Module,
				observability.Module,
				db.Module,
				fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
					return migration.Run(conn, log.Named("migration"))
				}),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			return app.Stop(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "maximum time to spend migrating")
	return cmd
}

// runApp blocks until the process receives a shutdown signal.
func runApp(ctx context.Context, opts ...fx.Option) error {
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	<-app.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return app.Stop(stopCtx)
}
