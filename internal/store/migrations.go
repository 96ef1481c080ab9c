package store

import (
	"database/sql"
	"fmt"
	"path"

	assets "github.com/haatos/deplora"
	"github.com/haatos/deplora/internal"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded migrations for the given driver.
func RunMigrations(db *sql.DB, driver string) error {
	goose.SetBaseFS(assets.MigrationsFS)
	dialect, dir := "sqlite", "sqlite"
	switch driver {
	case DriverSQLite:
	case DriverPostgres:
		dialect, dir = "postgres", "postgres"
	default:
		return fmt.Errorf("no migrations for database driver %q", driver)
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(db, path.Join(internal.MigrationsDir, dir))
}
