package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"bowtie-go/internal/database"
)

// NewTestDatabase creates a migrated SQLite database in a temporary directory.
// A file is used rather than :memory: because every session opens its own
// connection. The retry delay is shortened to keep contention tests fast.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "bowtie.db"), nil)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	db.Sessions().SetRetryPolicy(database.DefaultRetryAttempts, 5*time.Millisecond)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
