package ingest

import (
	"context"
	"fmt"
	"io"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/fs"
)

// DefaultMaxDownloadBytes caps any single download.
const DefaultMaxDownloadBytes = 50 << 20

// OpenFunc opens the remote content of a download.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

// Downloads stores raw media under stable names in the downloads directory.
// A name that is already present is never fetched again.
type Downloads struct {
	dir      *fs.Dir
	maxBytes int64
	logger   bowtie.Logger
}

// NewDownloads creates a store over dir. maxBytes <= 0 uses DefaultMaxDownloadBytes.
func NewDownloads(dir *fs.Dir, maxBytes int64, logger bowtie.Logger) *Downloads {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &Downloads{dir: dir, maxBytes: maxBytes, logger: logger}
}

// Ensure makes name present, fetching it with open when missing.
func (d *Downloads) Ensure(ctx context.Context, name string, open OpenFunc) error {
	if _, err := d.dir.Path(name); err != nil {
		return err
	}
	if d.dir.Exists(name) {
		return nil
	}

	rc, err := open(ctx)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", name, err)
	}
	defer rc.Close()

	r := &cappedReader{r: rc, remaining: d.maxBytes}
	if err := d.dir.WriteFrom(name, r, -1); err != nil {
		return fmt.Errorf("storing %s: %w", name, err)
	}
	d.logger.Info("downloaded", "file", name)
	return nil
}

// cappedReader fails once more than remaining bytes were read.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, fmt.Errorf("download exceeds size limit")
	}
	return n, err
}
