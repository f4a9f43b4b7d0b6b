package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	crmdomain "github.com/smallbiznis/sequencer/internal/crm/domain"
	eventdomain "github.com/smallbiznis/sequencer/internal/event/domain"
	scoringdomain "github.com/smallbiznis/sequencer/internal/scoring/domain"
	suppressiondomain "github.com/smallbiznis/sequencer/internal/suppression/domain"
	workflowdomain "github.com/smallbiznis/sequencer/internal/workflow/domain"
	"github.com/smallbiznis/sequencer/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the sequencer.
func Models() []any {
	return []any{
		&eventdomain.Event{},
		&suppressiondomain.Entry{},
		&scoringdomain.LeadScore{},
		&workflowdomain.Definition{},
		&workflowdomain.Enrollment{},
		&crmdomain.Contact{},
	}
}

// Run brings the schema up to date. Postgres goes through the versioned SQL
// migrations; the other dialects are created from the models.
func Run(conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	if db.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("dialect", conn.Dialector.Name()), zap.String("mode", "versioned"))
		return nil
	}

	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	log.Info("schema migrated", zap.String("dialect", conn.Dialector.Name()), zap.String("mode", "auto"))
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
