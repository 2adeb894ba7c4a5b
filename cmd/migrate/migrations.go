package main

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/infraweave-io/infraweave/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// registerModels returns all models that need migration
func registerModels() []interface{} {
	return []interface{}{
		&models.CatalogEntry{},
		&models.LatestPointer{},

		&models.Deployment{},
		&models.Job{},
		&models.Event{},
		&models.ChangeRecord{},
		&models.Lock{},

		&models.FacadeItem{},
		&models.FacadeLogEntry{},
	}
}

// runMigrations runs the schema changes AutoMigrate can't handle first
// (extensions, anything hand-written under migrations/), then lets
// AutoMigrate bring every model's columns/indexes up to date.
func runMigrations(db *gorm.DB) error {
	if err := runVersionedMigrations(db); err != nil {
		return err
	}
	return db.AutoMigrate(registerModels()...)
}

// runVersionedMigrations applies the embedded SQL migrations in
// migrations/ against the same database AutoMigrate targets, using a
// migrations_schema table to track what has already run.
func runVersionedMigrations(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("resolving sql.DB for migrations: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: "migrations_schema"})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running versioned migrations: %w", err)
	}
	return nil
}
