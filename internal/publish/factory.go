package publish

import (
	"context"
	"fmt"
	"time"

	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
	"bowtie-go/internal/fs"
)

// breakerOpenTimeout is how long an open breaker rejects calls before
// letting a probe through.
const breakerOpenTimeout = time.Minute

// NewRemoteFromConfig creates a Remote implementation based on the publisher config type.
func NewRemoteFromConfig(ctx context.Context, cfg config.PublisherConfig, logger bowtie.Logger) (bowtie.Remote, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryRemote(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem publisher requires fs_root to be set")
		}
		r, err := NewFileSystemRemote(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "sftp":
		if cfg.SFTPHost == "" {
			return nil, fmt.Errorf("sftp publisher requires sftp_host to be set")
		}
		r, err := NewSFTPRemote(cfg, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 publisher requires s3_bucket to be set")
		}
		r, err := NewS3Remote(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown publisher type: %s", cfg.Type)
	}
}

// NewPublisherFromConfig creates the Publisher for files in webDir. The
// remote is wrapped in a circuit breaker. Type "none" (or empty) disables
// publishing.
func NewPublisherFromConfig(ctx context.Context, cfg config.PublisherConfig, webDir string, logger bowtie.Logger) (bowtie.Publisher, error) {
	if cfg.Type == "none" || cfg.Type == "" {
		return NopPublisher{}, nil
	}

	dir, err := fs.NewDir(webDir)
	if err != nil {
		return nil, err
	}
	remote, err := NewRemoteFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	guarded := NewBreakerRemote(remote, cfg.MaxFailures, breakerOpenTimeout, logger)
	return NewSyncer(dir, guarded, cfg.UploadsPerSecond, logger), nil
}
