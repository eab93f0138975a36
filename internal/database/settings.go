package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SetConfig creates or replaces a named setting. The lookup and the write
// share one cursor.
func (s *SQLiteDatabase) SetConfig(ctx context.Context, name, value string) error {
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		_, exists, err := s.ReadConfig(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			_, err = cur.Exec(ctx, `UPDATE bowtie_config SET value = ? WHERE name = ?`, value, name)
		} else {
			_, err = cur.Exec(ctx, `INSERT INTO bowtie_config (name, value) VALUES (?, ?)`, name, value)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("setting config %q: %w", name, err)
	}
	return nil
}

// ReadConfig returns the value of a named setting.
func (s *SQLiteDatabase) ReadConfig(ctx context.Context, name string) (string, bool, error) {
	var (
		value  sql.NullString
		exists bool
	)
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		err := cur.QueryRow(ctx, `SELECT value FROM bowtie_config WHERE name = ?`, name).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("reading config %q: %w", name, err)
	}
	return value.String, exists, nil
}
