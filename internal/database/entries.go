package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"

	"bowtie-go/internal/bowtie"
)

const selectEntryColumns = `SELECT id, date, content, photo, entities, display_name, icon FROM bowtie_entry`

// AddEntry inserts entry and sets entry.ID to the store-assigned id.
func (s *SQLiteDatabase) AddEntry(ctx context.Context, entry *bowtie.Entry) error {
	entities, err := encodeSpans(entry.Entities)
	if err != nil {
		return fmt.Errorf("encoding entities: %w", err)
	}

	return s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		res, err := cur.Exec(ctx,
			`INSERT INTO bowtie_entry (date, content, photo, entities, display_name, icon) VALUES (?, ?, ?, ?, ?, ?)`,
			entry.Date,
			toNullString(entry.Content),
			toNullString(entry.Photo),
			entities,
			toNullString(entry.DisplayName),
			toNullString(entry.Icon),
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading entry id: %w", err)
		}
		entry.ID = id
		return nil
	})
}

// FindEntries returns up to limit entries, newest first, skipping offset.
func (s *SQLiteDatabase) FindEntries(ctx context.Context, limit, offset int) ([]*bowtie.Entry, error) {
	entries := []*bowtie.Entry{}
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		// A retried attempt starts over.
		entries = entries[:0]
		return cur.Query(ctx, func(rows *sql.Rows) error {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		}, selectEntryColumns+` ORDER BY date DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	})
	if err != nil {
		return nil, fmt.Errorf("finding entries: %w", err)
	}
	return entries, nil
}

// LatestEntry returns the newest entry, or nil when the store is empty.
func (s *SQLiteDatabase) LatestEntry(ctx context.Context) (*bowtie.Entry, error) {
	entries, err := s.FindEntries(ctx, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func scanEntry(rows *sql.Rows) (*bowtie.Entry, error) {
	var e bowtie.Entry
	var date sql.NullInt64
	var content, photo, entities, displayName, icon sql.NullString
	if err := rows.Scan(&e.ID, &date, &content, &photo, &entities, &displayName, &icon); err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}
	e.Date = date.Int64
	e.Content = content.String
	e.Photo = photo.String
	e.DisplayName = displayName.String
	e.Icon = icon.String

	spans, err := decodeSpans(entities.String)
	if err != nil {
		return nil, fmt.Errorf("decoding entities of entry %d: %w", e.ID, err)
	}
	e.Entities = spans
	return &e, nil
}

// encodeSpans serializes spans as a JSON array; no spans is stored as NULL.
func encodeSpans(spans []bowtie.TextSpan) (sql.NullString, error) {
	if len(spans) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(spans)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeSpans(raw string) ([]bowtie.TextSpan, error) {
	if raw == "" {
		return nil, nil
	}
	var spans []bowtie.TextSpan
	if err := json.Unmarshal([]byte(raw), &spans); err != nil {
		return nil, err
	}
	return spans, nil
}
