package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sequencer/internal/cache"
	"github.com/smallbiznis/sequencer/internal/clock"
	"github.com/smallbiznis/sequencer/internal/config"
	"github.com/smallbiznis/sequencer/internal/crm"
	"github.com/smallbiznis/sequencer/internal/event"
	"github.com/smallbiznis/sequencer/internal/migration"
	"github.com/smallbiznis/sequencer/internal/observability"
	"github.com/smallbiznis/sequencer/internal/providers/email"
	"github.com/smallbiznis/sequencer/internal/scoring"
	"github.com/smallbiznis/sequencer/internal/suppression"
	"github.com/smallbiznis/sequencer/internal/workflow"
	"github.com/smallbiznis/sequencer/pkg/db"
	"go.uber.org/fx"
)

// infrastructure is shared by every command that touches the store.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
	)
}

// domains wires the sequencing services and their event subscribers.
func domains() fx.Option {
	return fx.Options(
		migration.Module,
		event.Module,
		suppression.Module,
		scoring.Module,
		crm.Module,
		email.Module,
		workflow.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// withScheduler forces the poll loop on for the dedicated scheduler process.
func withScheduler() fx.Option {
	return fx.Decorate(func(cfg config.Config) config.Config {
		cfg.Scheduler.Enabled = true
		return cfg
	})
}
