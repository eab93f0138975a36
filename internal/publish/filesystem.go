package publish

import (
	"context"
	"io"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/fs"
)

// FileSystemRemote mirrors the archive into a local directory, for example
// the document root of a web server on the same host.
type FileSystemRemote struct {
	dir *fs.Dir
}

// NewFileSystemRemote creates a remote rooted at root, creating it if needed.
func NewFileSystemRemote(root string) (*FileSystemRemote, error) {
	dir, err := fs.NewDir(root)
	if err != nil {
		return nil, err
	}
	return &FileSystemRemote{dir: dir}, nil
}

// Stat returns the size of a mirrored file.
func (f *FileSystemRemote) Stat(_ context.Context, name string) (int64, bool, error) {
	return f.dir.Stat(name)
}

// Put writes the file atomically, so readers of the mirror never observe a
// half-written page.
func (f *FileSystemRemote) Put(_ context.Context, name string, r io.Reader, size int64) error {
	return f.dir.WriteFrom(name, r, size)
}

// Close is a no-op for the filesystem remote.
func (f *FileSystemRemote) Close() error {
	return nil
}

// Compile-time check that FileSystemRemote implements bowtie.Remote interface
var _ bowtie.Remote = (*FileSystemRemote)(nil)
