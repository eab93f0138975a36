package database

import (
	"context"
	"fmt"
)

// HasFeedItem reports whether the social-feed item id has been ingested.
func (s *SQLiteDatabase) HasFeedItem(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		return cur.QueryRow(ctx, `SELECT COUNT(*) FROM bowtie_tweet WHERE id = ?`, id).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("checking feed item %d: %w", id, err)
	}
	return n > 0, nil
}

// SaveFeedItem stores the raw JSON of an ingested social-feed item.
func (s *SQLiteDatabase) SaveFeedItem(ctx context.Context, id int64, raw string) error {
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		_, err := cur.Exec(ctx, `INSERT OR REPLACE INTO bowtie_tweet (id, json) VALUES (?, ?)`, id, raw)
		return err
	})
	if err != nil {
		return fmt.Errorf("saving feed item %d: %w", id, err)
	}
	return nil
}
