package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"bowtie-go/internal/bowtie"
)

const (
	// DefaultRetryAttempts is how many times a statement is attempted when
	// SQLite reports lock contention.
	DefaultRetryAttempts = 10
	// DefaultRetryDelay is the fixed pause between attempts.
	DefaultRetryDelay = 200 * time.Millisecond
)

var (
	// ErrRetriesExhausted wraps the last transient error once every attempt failed.
	ErrRetriesExhausted = errors.New("sqlite still locked after retries")

	// ErrRolledBack is returned by the outermost scope when a nested scope
	// failed but its error did not reach the outermost body.
	ErrRolledBack = errors.New("session rolled back after a nested failure")
)

// scope is the session state of one logical caller: a connection with an
// open transaction, and at most one active cursor on it.
type scope struct {
	conn   *sql.Conn
	tx     *sql.Tx
	cursor *Cursor
	failed bool
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Cursor is the single live statement context of a session. Queries are
// drained before they return so that a cursor never has two open result sets.
type Cursor struct {
	tx *sql.Tx
}

// Exec runs a statement that returns no rows.
func (c *Cursor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.tx.ExecContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row.
func (c *Cursor) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.tx.QueryRowContext(ctx, query, args...)
}

// Query runs a query and calls scan once per row.
func (c *Cursor) Query(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error {
	rows, err := c.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SessionManager hands out scoped database sessions.
//
// The session state travels in the context. A context that carries a
// session must stay on the goroutine that created it; other goroutines
// open their own sessions.
type SessionManager struct {
	db       *sql.DB
	logger   bowtie.Logger
	attempts int
	delay    time.Duration
	onRetry  func()
}

// NewSessionManager creates a SessionManager over db with the default retry policy.
func NewSessionManager(db *sql.DB, logger bowtie.Logger) *SessionManager {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &SessionManager{
		db:       db,
		logger:   logger,
		attempts: DefaultRetryAttempts,
		delay:    DefaultRetryDelay,
	}
}

// SetRetryPolicy overrides the number of attempts and the delay between them.
func (m *SessionManager) SetRetryPolicy(attempts int, delay time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	m.attempts = attempts
	m.delay = delay
}

// OnRetry registers a hook called every time a transient error is retried.
func (m *SessionManager) OnRetry(fn func()) {
	m.onRetry = fn
}

// WithConnection runs fn on a fresh connection and transaction, even when
// ctx already carries a session; the outer session is untouched and is
// visible again once WithConnection returns. The transaction is committed
// when fn succeeds and rolled back otherwise.
func (m *SessionManager) WithConnection(ctx context.Context, fn func(ctx context.Context) error) error {
	s, err := m.open(ctx)
	if err != nil {
		return err
	}
	err = fn(context.WithValue(ctx, scopeKey{}, s))
	return m.finish(s, err)
}

// WithCursor runs fn with the cursor of the current session:
//   - if a cursor is active it is reused and the owning scope decides the
//     transaction outcome;
//   - if only a connection is active, a cursor is created for this call and
//     dropped when it returns;
//   - otherwise a connection, transaction and cursor are created and torn
//     down (commit or rollback, then close) when fn returns.
//
// A failing fn always dooms the owning transaction, even if a caller in
// between swallows the error.
func (m *SessionManager) WithCursor(ctx context.Context, fn func(ctx context.Context, cur *Cursor) error) error {
	s := scopeFrom(ctx)

	switch {
	case s != nil && s.cursor != nil:
		err := fn(ctx, s.cursor)
		if err != nil {
			s.failed = true
		}
		return err

	case s != nil:
		s.cursor = &Cursor{tx: s.tx}
		defer func() { s.cursor = nil }()
		err := fn(ctx, s.cursor)
		if err != nil {
			s.failed = true
		}
		return err

	default:
		s, err := m.open(ctx)
		if err != nil {
			return err
		}
		s.cursor = &Cursor{tx: s.tx}
		err = fn(context.WithValue(ctx, scopeKey{}, s), s.cursor)
		s.cursor = nil
		return m.finish(s, err)
	}
}

// Retry calls fn until it succeeds, fails with a non-transient error, or
// the retry budget is spent.
func (m *SessionManager) Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}

		m.logger.Warn("sqlite transient error", "attempt", attempt, "error", err)
		if m.onRetry != nil {
			m.onRetry()
		}
		if attempt == m.attempts {
			break
		}

		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, m.attempts, err)
}

// run is the store entry point: a cursor scope around a retried body.
func (m *SessionManager) run(ctx context.Context, fn func(ctx context.Context, cur *Cursor) error) error {
	return m.WithCursor(ctx, func(ctx context.Context, cur *Cursor) error {
		return m.Retry(ctx, func() error {
			return fn(ctx, cur)
		})
	})
}

// open acquires a dedicated connection and begins a transaction on it.
func (m *SessionManager) open(ctx context.Context) (*scope, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var tx *sql.Tx
	err = m.Retry(ctx, func() error {
		var beginErr error
		tx, beginErr = conn.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting transaction: %w", err)
	}

	return &scope{conn: conn, tx: tx}, nil
}

// finish commits or rolls back the scope's transaction and releases its connection.
func (m *SessionManager) finish(s *scope, err error) error {
	defer s.conn.Close()

	if err == nil && s.failed {
		err = ErrRolledBack
	}
	if err != nil {
		if rbErr := s.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rolling back: %w", rbErr))
		}
		return err
	}

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is SQLite lock contention that is worth
// retrying. Errors that already exhausted a retry loop are not transient,
// so nested retry loops do not multiply.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
