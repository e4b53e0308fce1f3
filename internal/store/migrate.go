package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// newMigrator opens a dedicated connection; closing the migrator closes it.
func newMigrator(databaseURL, migrationsDir string) (*migrate.Migrate, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open migration db: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	dir, err := filepath.Abs(migrationsDir)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("resolve migrations dir: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+filepath.ToSlash(dir), "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations runs every pending up migration.
func ApplyMigrations(databaseURL, migrationsDir string) error {
	m, err := newMigrator(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RollbackMigrations reverts steps migrations, or all of them when steps is 0.
func RollbackMigrations(databaseURL, migrationsDir string, steps int) error {
	m, err := newMigrator(databaseURL, migrationsDir)
	if err != nil {
		return err
	}
	defer m.Close()

	if steps > 0 {
		err = m.Steps(-steps)
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied version; 0 means nothing applied.
func MigrationVersion(databaseURL, migrationsDir string) (version uint, dirty bool, err error) {
	m, err := newMigrator(databaseURL, migrationsDir)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}
