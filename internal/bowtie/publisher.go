package bowtie

import (
	"context"
	"io"
)

// Remote is a publishing destination for the generated archive.
// Implementations must be safe to call sequentially from a single goroutine;
// the sync algorithm in package publish never calls them concurrently.
type Remote interface {
	// Stat returns the size of a remote file. exists is false when the file
	// is not present remotely.
	Stat(ctx context.Context, name string) (size int64, exists bool, err error)

	// Put uploads size bytes read from r as the named remote file,
	// replacing any existing file.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Close releases any connection held by the remote.
	Close() error
}

// Publisher hands a set of generated files to a Remote.
type Publisher interface {
	// Publish uploads each named file (relative to the web directory) that is
	// missing remotely or whose remote size differs. It returns the number of
	// files uploaded.
	Publish(ctx context.Context, files []string) (int, error)

	// Close releases the underlying remote.
	Close() error
}
