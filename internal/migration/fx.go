package migration

import (
	"github.com/smallbiznis/sequencer/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("schema migration on startup disabled")
			return nil
		}
		return Run(conn, log.Named("migration"))
	}),
)
