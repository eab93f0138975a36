package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements the bowtie.Database interface using SQLite.
type SQLiteDatabase struct {
	db       *sql.DB
	sessions *SessionManager
	path     string
}

// NewSQLiteDatabase opens the database at path and brings its schema up to date.
// A migration failure is fatal for the caller: the database is closed and
// the error returned.
func NewSQLiteDatabase(path string, logger bowtie.Logger) (*SQLiteDatabase, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s := NewSQLiteDatabaseFromDB(db, logger)
	s.path = path
	return s, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the schema is in place.
func NewSQLiteDatabaseFromDB(db *sql.DB, logger bowtie.Logger) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:       db,
		sessions: NewSessionManager(db, logger),
	}
}

// OpenConnection opens a SQLite database configured for session use:
//   - busy timeout 0, so lock contention surfaces immediately and the
//     session retry policy is the only mitigation;
//   - immediate transactions, so writers contend at BEGIN instead of
//     failing halfway through a transaction;
//   - WAL journal, so readers do not block the writer.
//
// This is exported for tools and tests that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "0")
	params.Set("_txlock", "immediate")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Sessions exposes the session manager, e.g. to tune the retry policy.
func (s *SQLiteDatabase) Sessions() *SessionManager {
	return s.sessions
}

// WithConnection runs fn inside a dedicated connection and transaction.
func (s *SQLiteDatabase) WithConnection(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.sessions.WithConnection(ctx, fn)
}

// Path returns the database file path.
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// toNullString maps the empty string to NULL.
func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Compile-time check that SQLiteDatabase implements bowtie.Database interface
var _ bowtie.Database = (*SQLiteDatabase)(nil)
