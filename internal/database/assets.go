package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bowtie-go/internal/bowtie"
)

// AddAsset records a derivation and sets asset.ID.
func (s *SQLiteDatabase) AddAsset(ctx context.Context, asset *bowtie.Asset) error {
	return s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		res, err := cur.Exec(ctx,
			`INSERT INTO bowtie_asset (source, variant, destination) VALUES (?, ?, ?)`,
			asset.Source, string(asset.Variant), asset.Destination,
		)
		if err != nil {
			return fmt.Errorf("inserting asset: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading asset id: %w", err)
		}
		asset.ID = id
		return nil
	})
}

// FindAsset returns the oldest derivation of source with variant, or nil.
func (s *SQLiteDatabase) FindAsset(ctx context.Context, source string, variant bowtie.Variant) (*bowtie.Asset, error) {
	var asset *bowtie.Asset
	err := s.sessions.run(ctx, func(ctx context.Context, cur *Cursor) error {
		var a bowtie.Asset
		var v, dest sql.NullString
		err := cur.QueryRow(ctx,
			`SELECT id, source, variant, destination FROM bowtie_asset WHERE source = ? AND variant = ? ORDER BY id LIMIT 1`,
			source, string(variant),
		).Scan(&a.ID, &a.Source, &v, &dest)
		if errors.Is(err, sql.ErrNoRows) {
			asset = nil
			return nil
		}
		if err != nil {
			return err
		}
		a.Variant = bowtie.Variant(v.String)
		a.Destination = dest.String
		asset = &a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding asset: %w", err)
	}
	return asset, nil
}
