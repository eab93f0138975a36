package encryption

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/fs"
)

// SnapshotName is the file name of the published snapshot.
const SnapshotName = "bowtie-snapshot.age"

// ErrDestinationExists is returned by Restore when it would overwrite a file.
var ErrDestinationExists = errors.New("restore destination already exists")

// Snapshotter writes an encrypted copy of the database next to the pages so
// it is published with them.
type Snapshotter struct {
	db     bowtie.Database
	enc    bowtie.Encryptor
	logger bowtie.Logger
}

func NewSnapshotter(db bowtie.Database, enc bowtie.Encryptor, logger bowtie.Logger) *Snapshotter {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	return &Snapshotter{db: db, enc: enc, logger: logger}
}

// Attach writes the snapshot into web and returns its name.
func (s *Snapshotter) Attach(ctx context.Context, web *fs.Dir) (string, error) {
	if err := s.WriteTo(ctx, web, SnapshotName); err != nil {
		return "", err
	}
	return SnapshotName, nil
}

// WriteTo encrypts a consistent copy of the database into dir as name.
func (s *Snapshotter) WriteTo(ctx context.Context, dir *fs.Dir, name string) error {
	if !s.enc.HasKeys() {
		return fmt.Errorf("no encryption keys, run snapshot keygen first")
	}

	tmp, err := os.MkdirTemp("", "bowtie-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	plainPath := filepath.Join(tmp, "bowtie.db")
	if err := s.db.BackupTo(ctx, plainPath); err != nil {
		return err
	}
	plain, err := os.Open(plainPath)
	if err != nil {
		return fmt.Errorf("opening backup: %w", err)
	}
	defer plain.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.enc.Encrypt(plain, pw))
	}()
	if err := dir.WriteFrom(name, pr, -1); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("writing snapshot: %w", err)
	}

	s.logger.Info("snapshot written", "name", name)
	return nil
}

// Restore decrypts the snapshot at src into a database file at dest.
// An existing dest is only replaced when force is set.
func Restore(dec bowtie.Decryptor, src, dest string, force bool) error {
	if _, err := os.Stat(dest); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(dec.Decrypt(in, pw))
	}()
	if err := fs.WriteFileAtomic(dest, pr, -1); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("restoring database: %w", err)
	}
	// Stale WAL files would be replayed over the restored database.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", dest+suffix, err)
		}
	}
	return nil
}
