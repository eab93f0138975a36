// Package fs provides rooted access to the download and web directories.
package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a flat directory of files addressed by base name, such as the
// downloads directory or the generated web directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root, creating the directory if needed.
func NewDir(root string) (*Dir, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", absRoot, err)
	}
	return &Dir{root: absRoot}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string {
	return d.root
}

// Path validates name and returns its absolute path. Names must be plain
// file names: no separators and no dot entries.
func (d *Dir) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

// Stat returns the size of a regular file. exists is false when the file is
// absent. Symlinks and special files are rejected.
func (d *Dir) Stat(name string) (size int64, exists bool, err error) {
	p, err := d.Path(name)
	if err != nil {
		return 0, false, err
	}

	info, err := os.Lstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat %s: %w", name, err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return 0, false, fmt.Errorf("symlinks not supported: %s", p)
	case !mode.IsRegular():
		return 0, false, fmt.Errorf("not a regular file: %s", p)
	}
	return info.Size(), true, nil
}

// Exists reports whether name is present as a regular file.
func (d *Dir) Exists(name string) bool {
	_, exists, err := d.Stat(name)
	return err == nil && exists
}

// Open opens a file for reading.
func (d *Dir) Open(name string) (*os.File, error) {
	p, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Write stores data under name atomically.
func (d *Dir) Write(name string, data []byte) error {
	return d.WriteFrom(name, strings.NewReader(string(data)), int64(len(data)))
}

// WriteFrom copies r to name using an atomic write (temp file + rename), so
// readers never observe a partially written file. A negative expectedSize
// skips the size check.
func (d *Dir) WriteFrom(name string, r io.Reader, expectedSize int64) error {
	p, err := d.Path(name)
	if err != nil {
		return err
	}
	return WriteFileAtomic(p, r, expectedSize)
}

// Remove deletes name. A missing file is not an error.
func (d *Dir) Remove(name string) error {
	p, err := d.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

// WriteFileAtomic writes data from r to destPath through a temp file in the
// same directory. A negative expectedSize skips the size check.
func WriteFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if expectedSize >= 0 && written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	// CreateTemp uses 0600; published files must be world-readable.
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
