package bowtie

import "context"

// Database provides the persistence operations used by ingestion and the
// archive builder. Every method opens its own session scope unless ctx
// already carries one (see database.SessionManager).
type Database interface {
	// WithConnection runs fn inside a dedicated connection and transaction.
	// Store calls made with the ctx passed to fn share that transaction.
	WithConnection(ctx context.Context, fn func(ctx context.Context) error) error

	// Entry operations

	// AddEntry inserts a new entry and sets entry.ID.
	AddEntry(ctx context.Context, entry *Entry) error

	// FindEntries returns entries newest first (date desc, then id desc).
	FindEntries(ctx context.Context, limit, offset int) ([]*Entry, error)

	// LatestEntry returns the newest entry, or nil if there are none.
	LatestEntry(ctx context.Context) (*Entry, error)

	// Asset operations

	// AddAsset records a derivation.
	AddAsset(ctx context.Context, asset *Asset) error

	// FindAsset returns the first derivation recorded for source and variant,
	// or nil if none exists.
	FindAsset(ctx context.Context, source string, variant Variant) (*Asset, error)

	// Config operations

	// SetConfig creates or replaces a named setting.
	SetConfig(ctx context.Context, name, value string) error

	// ReadConfig returns a named setting. ok is false when it is not set.
	ReadConfig(ctx context.Context, name string) (value string, ok bool, err error)

	// Feed operations

	// HasFeedItem reports whether a social-feed item was already ingested.
	HasFeedItem(ctx context.Context, id int64) (bool, error)

	// SaveFeedItem records the raw JSON of an ingested social-feed item.
	SaveFeedItem(ctx context.Context, id int64, raw string) error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(ctx context.Context, destPath string) error

	// Close closes the database.
	Close() error
}
