package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	types "github.com/yungbote/podscribe-backend/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "schema_migrations"

// AutoMigrateAll creates tables from the GORM models. Used by development
// setups and the SQLite-backed tests; production schema comes from RunMigrations.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

// EnsureJobIndexes adds the composite indexes the controller and reconcile
// queries rely on. Safe to run repeatedly.
func EnsureJobIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_jobs_batch_status_created
		ON jobs (batch_id, status, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_jobs_batch_status_created: %w", err)
	}
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_activity_log_job_created
		ON activity_log (job_id, created_at);
	`).Error; err != nil {
		return fmt.Errorf("create idx_activity_log_job_created: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded SQL migrations, which carry the foreign
// keys and ON DELETE rules AutoMigrate does not express.
func RunMigrations(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}
	drv, err := migratepg.WithInstance(sqlDB, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := m.Version()
		return fmt.Errorf("migration failed at version %d (dirty=%v): %w", version, dirty, err)
	}
	return nil
}

// Migrate runs either the SQL migrations or AutoMigrate, then the extra indexes.
func (s *PostgresService) Migrate(useSQL bool) error {
	if useSQL {
		s.log.Info("Running SQL migrations...")
		if err := RunMigrations(s.db); err != nil {
			s.log.Error("SQL migration failed", "error", err)
			return err
		}
	} else {
		s.log.Info("Auto migrating postgres tables...")
		if err := AutoMigrateAll(s.db); err != nil {
			s.log.Error("Auto migration failed", "error", err)
			return err
		}
	}
	if err := EnsureJobIndexes(s.db); err != nil {
		s.log.Error("Job index migration failed", "error", err)
		return err
	}
	return nil
}
