// Package publish uploads the generated archive to a remote location.
package publish

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/fs"
	"bowtie-go/internal/metrics"
)

// Syncer implements bowtie.Publisher: a file is uploaded when it is missing
// remotely or when the remote size differs from the local size.
type Syncer struct {
	dir     *fs.Dir
	remote  bowtie.Remote
	limiter *rate.Limiter
	logger  bowtie.Logger
}

var _ bowtie.Publisher = (*Syncer)(nil)

// NewSyncer creates a Syncer publishing files from dir to remote.
// uploadsPerSecond limits the upload rate; zero or less disables the limit.
func NewSyncer(dir *fs.Dir, remote bowtie.Remote, uploadsPerSecond float64, logger bowtie.Logger) *Syncer {
	if logger == nil {
		logger = bowtie.NewNopLogger()
	}
	s := &Syncer{
		dir:    dir,
		remote: remote,
		logger: logger,
	}
	if uploadsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(uploadsPerSecond), 1)
	}
	return s
}

// Publish uploads the files that need it and returns how many were uploaded.
// It stops at the first failure.
func (s *Syncer) Publish(ctx context.Context, files []string) (int, error) {
	uploaded := 0
	seen := make(map[string]bool, len(files))

	for _, name := range files {
		if seen[name] {
			continue
		}
		seen[name] = true

		did, err := s.syncFile(ctx, name)
		if err != nil {
			return uploaded, fmt.Errorf("publishing %s: %w", name, err)
		}
		if did {
			uploaded++
		}
	}
	return uploaded, nil
}

func (s *Syncer) syncFile(ctx context.Context, name string) (bool, error) {
	localSize, exists, err := s.dir.Stat(name)
	if err != nil {
		return false, fmt.Errorf("reading local file: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("local file not found")
	}

	remoteSize, remoteExists, err := s.remote.Stat(ctx, name)
	if err != nil {
		return false, fmt.Errorf("checking remote file: %w", err)
	}
	if remoteExists && remoteSize == localSize {
		return false, nil
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	f, err := s.dir.Open(name)
	if err != nil {
		return false, fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	if err := s.remote.Put(ctx, name, f, localSize); err != nil {
		return false, fmt.Errorf("uploading: %w", err)
	}

	metrics.UploadsTotal.Inc()
	metrics.UploadBytes.Add(float64(localSize))
	s.logger.Info("uploaded", "file", name, "size", localSize, "replaced", remoteExists)
	return true, nil
}

// Close closes the remote.
func (s *Syncer) Close() error {
	return s.remote.Close()
}

// NopPublisher is used when publishing is disabled.
type NopPublisher struct{}

var _ bowtie.Publisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, []string) (int, error) { return 0, nil }
func (NopPublisher) Close() error                                   { return nil }
