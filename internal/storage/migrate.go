package storage

import (
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// Migrate applies the migrations under dir/<driver> to the database. It is a
// no-op when the schema is already current.
func Migrate(driver, dsn, dir string) error {
	source := "file://" + filepath.ToSlash(filepath.Join(dir, driver))
	m, err := migrate.New(source, migrationURL(driver, dsn))
	if err != nil {
		return errors.Wrap(err, "initialize migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

func migrationURL(driver, dsn string) string {
	if driver == "sqlite3" && !strings.HasPrefix(dsn, "sqlite3://") {
		return "sqlite3://" + dsn
	}
	return dsn
}
