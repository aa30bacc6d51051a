// Package testing provides test database and fixture helpers.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"compengine/internal/database"

	_ "modernc.org/sqlite"
)

// NewTestDB creates a temporary SQLite database with the core schema applied.
// Returns the raw connection and a cleanup function; the cleanup is safe to
// call more than once.
func NewTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_core_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    "core",
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	closed := false
	cleanup := func() {
		if !closed {
			closed = true
			_ = db.Close()
		}
		_ = os.Remove(tmpPath)
		_ = os.Remove(tmpPath + "-wal")
		_ = os.Remove(tmpPath + "-shm")
	}

	return db.Conn(), cleanup
}

// MustExec runs a statement and fails the test on error.
func MustExec(t *testing.T, db *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Failed to exec %q: %v", query, err)
	}
}

// CountRows returns the row count of a table filtered by the given WHERE
// clause ("" for all rows).
func CountRows(t *testing.T, db *sql.DB, table, where string, args ...interface{}) int {
	t.Helper()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return count
}
