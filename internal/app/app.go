// Package app wires configuration into the bowtie services for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"bowtie-go/internal/archive"
	"bowtie-go/internal/bowtie"
	"bowtie-go/internal/config"
	"bowtie-go/internal/database"
	"bowtie-go/internal/encryption"
	"bowtie-go/internal/fs"
	"bowtie-go/internal/ingest"
	"bowtie-go/internal/media"
	"bowtie-go/internal/metrics"
	"bowtie-go/internal/publish"
	"bowtie-go/internal/supervisor"
)

// feedRequestsPerSecond throttles timeline and media requests.
const feedRequestsPerSecond = 1

var _ archive.Attachment = (*encryption.Snapshotter)(nil)

// App owns the database, directories and publisher built from a Config.
// The caller must call Close when done.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	slog      *slog.Logger
	logger    bowtie.Logger
	logFile   *os.File
	downloads *fs.Dir
	web       *fs.Dir
	publisher bowtie.Publisher
	builder   *archive.Builder
}

// New builds an App. command is written into every log line.
func New(ctx context.Context, cfg *config.Config, command string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(cfg.LogDir, command)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	adapter := &slogAdapter{l: logger}
	transcoder := media.NewToolTranscoder(cfg.Media, media.ExecRunner{}, adapter.With("component", "media"))
	a, err := newApp(ctx, cfg, logger, transcoder)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, transcoder bowtie.Transcoder) (*App, error) {
	adapter := &slogAdapter{l: logger}

	db, err := database.NewDatabaseFromConfig(cfg.Database, adapter.With("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	db.Sessions().OnRetry(metrics.StoreRetries.Inc)

	a := &App{cfg: cfg, db: db, slog: logger, logger: adapter}
	if err := a.init(ctx, transcoder); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, transcoder bowtie.Transcoder) error {
	var err error
	if a.downloads, err = fs.NewDir(a.cfg.Paths.Downloads); err != nil {
		return fmt.Errorf("downloads directory: %w", err)
	}
	if a.web, err = fs.NewDir(a.cfg.Paths.Web); err != nil {
		return fmt.Errorf("web directory: %w", err)
	}

	a.publisher, err = publish.NewPublisherFromConfig(ctx, a.cfg.Publisher, a.web.Root(), a.logger.With("component", "publish"))
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	a.builder = archive.NewBuilder(a.db, transcoder, a.publisher, a.downloads, a.web, archive.Options{
		PageBudget:        int64(a.cfg.Build.PageBudget),
		Window:            a.cfg.Build.Window,
		MaxEntriesPerPage: a.cfg.Build.MaxEntriesPerPage,
	}, a.logger.With("component", "archive"))

	if a.cfg.Encryption.PublishSnapshot {
		enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		a.builder.AddAttachment(encryption.NewSnapshotter(a.db, enc, a.logger.With("component", "snapshot")))
	}
	return nil
}

// Database exposes the archive store.
func (a *App) Database() bowtie.Database {
	return a.db
}

// Rebuild regenerates and publishes the archive once.
func (a *App) Rebuild(ctx context.Context) (*archive.Result, error) {
	return a.builder.Rebuild(ctx)
}

// Entries returns the newest entries.
func (a *App) Entries(ctx context.Context, limit int) ([]*bowtie.Entry, error) {
	return a.db.FindEntries(ctx, limit, 0)
}

// Setting reads a runtime setting from the store.
func (a *App) Setting(ctx context.Context, name string) (string, bool, error) {
	return a.db.ReadConfig(ctx, name)
}

// SetSetting stores a runtime setting.
func (a *App) SetSetting(ctx context.Context, name, value string) error {
	return a.db.SetConfig(ctx, name, value)
}

// Snapshot writes an encrypted copy of the database into dir as name.
func (a *App) Snapshot(ctx context.Context, dir, name string) error {
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	out, err := fs.NewDir(dir)
	if err != nil {
		return err
	}
	return encryption.NewSnapshotter(a.db, enc, a.logger).WriteTo(ctx, out, name)
}

// Serve runs the enabled services under a supervisor tree until ctx is
// canceled.
func (a *App) Serve(ctx context.Context) error {
	tree, err := a.tree()
	if err != nil {
		return err
	}
	a.logger.Info("serving", "telegram", a.cfg.Telegram.Enabled, "feed", a.cfg.Feed.Enabled, "metrics", a.cfg.Metrics.Enabled)

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *App) tree() (*supervisor.Tree, error) {
	interval, err := a.cfg.Build.Interval()
	if err != nil {
		return nil, err
	}
	tree := supervisor.NewTree(a.slog, supervisor.DefaultTreeConfig())
	tree.AddArchiveService(archive.NewService(a.builder, interval, a.logger.With("component", "archive")))

	downloads := ingest.NewDownloads(a.downloads, ingest.DefaultMaxDownloadBytes, a.logger.With("component", "downloads"))

	if a.cfg.Telegram.Enabled {
		bot, err := ingest.NewTelegramBot(a.cfg.Telegram.Token)
		if err != nil {
			return nil, err
		}
		logger := a.logger.With("component", "telegram")
		handler := ingest.NewHandler(a.db, bot, downloads, a.cfg.Telegram.AdminID, logger)
		tree.AddIngestService(ingest.NewTelegramService(bot, handler, a.cfg.Telegram.Timeout, logger))
	}

	if a.cfg.Feed.Enabled {
		feedInterval, err := a.cfg.Feed.PollInterval()
		if err != nil {
			return nil, err
		}
		logger := a.logger.With("component", "feed")
		client := ingest.NewFeedClient(a.cfg.Feed.BaseURL, a.cfg.Feed.BearerToken, feedRequestsPerSecond, nil)
		poller := ingest.NewFeedPoller(client, a.db, downloads, a.cfg.Feed.UserID, a.cfg.Feed.Count, logger)
		tree.AddIngestService(ingest.NewFeedService(poller, feedInterval, logger))
	}

	if a.cfg.Metrics.Enabled {
		tree.AddAPIService(metrics.NewServer(a.cfg.Metrics.Addr, a.logger.With("component", "metrics")))
	}
	return tree, nil
}

// Close releases the publisher, the database and the log file.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing publisher: %w", err))
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// GenerateKeys creates the snapshot key pair described by cfg.
func GenerateKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	return enc.GenerateKeys(passphrase)
}

// RestoreSnapshot decrypts the snapshot at src into the configured database
// path. The database must not be open.
func RestoreSnapshot(cfg *config.Config, passphrase, src string, force bool) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return err
	}
	if err := encryption.Restore(dec, src, cfg.Database.Path, force); err != nil {
		return err
	}

	// Opening migrates the restored file and proves it is a database.
	db, err := database.NewSQLiteDatabase(cfg.Database.Path, nil)
	if err != nil {
		return fmt.Errorf("verifying restored database: %w", err)
	}
	return db.Close()
}
