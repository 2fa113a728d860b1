package testutil

import (
	"path/filepath"
	"testing"

	"github.com/TashaKaslana/Zenflow-sub001/internal/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// SetupSQLite creates a migrated SQLite database in a temporary directory.
func SetupSQLite(t *testing.T) *TestDB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zenflow.db")
	if err := storage.Migrate("sqlite3", path, MigrationsDir); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	return &TestDB{DB: db, Driver: "sqlite3", ConnStr: path}
}
