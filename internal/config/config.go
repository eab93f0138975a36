package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for bowtie.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	Database   DatabaseConfig   `toml:"database"`
	Paths      PathsConfig      `toml:"paths"`
	Build      BuildConfig      `toml:"build"`
	Media      MediaConfig      `toml:"media"`
	Publisher  PublisherConfig  `toml:"publisher"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Feed       FeedConfig       `toml:"feed"`
	Encryption EncryptionConfig `toml:"encryption"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// DatabaseConfig represents configuration for the archive database.
type DatabaseConfig struct {
	Type string `toml:"type" validate:"oneof=sqlite"`
	Path string `toml:"path" validate:"required"`
}

// PathsConfig locates the raw downloads and the generated site.
type PathsConfig struct {
	Downloads string `toml:"downloads" validate:"required"`
	Web       string `toml:"web" validate:"required"`
}

// BuildConfig tunes archive generation.
type BuildConfig struct {
	PageBudget        int    `toml:"page_budget" validate:"gt=0"`          // bytes per page before a new page starts
	Window            int    `toml:"window" validate:"gt=0"`               // newest entries included in a rebuild
	MaxEntriesPerPage int    `toml:"max_entries_per_page" validate:"gt=0"` // hard cap regardless of budget
	PollInterval      string `toml:"poll_interval" validate:"required"`    // Go duration, e.g. "1s"
}

// Interval returns the parsed poll interval.
func (b BuildConfig) Interval() (time.Duration, error) {
	return parsePositiveDuration("build.poll_interval", b.PollInterval)
}

// MediaConfig names the external transcoding tools.
type MediaConfig struct {
	ConvertPath string `toml:"convert_path"`
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// PublisherConfig represents configuration for the publishing destination.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublisherConfig struct {
	Type string `toml:"type" validate:"oneof=none memory filesystem sftp s3"`

	// Applies to every remote type.
	MaxFailures      uint32  `toml:"max_failures,omitempty"`       // consecutive failures before the breaker opens
	UploadsPerSecond float64 `toml:"uploads_per_second,omitempty"` // 0 means unthrottled

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// SFTP-specific fields (only used when Type == "sftp")
	SFTPHost           string `toml:"sftp_host,omitempty" validate:"required_if=Type sftp"`
	SFTPPort           int    `toml:"sftp_port,omitempty"`
	SFTPUser           string `toml:"sftp_user,omitempty" validate:"required_if=Type sftp"`
	SFTPPassword       string `toml:"sftp_password,omitempty"`
	SFTPKeyPath        string `toml:"sftp_key_path,omitempty"`
	SFTPKnownHostsPath string `toml:"sftp_known_hosts_path,omitempty"`
	SFTPDir            string `toml:"sftp_dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// TelegramConfig configures the messaging bot.
type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token,omitempty" validate:"required_if=Enabled true"`
	AdminID int64  `toml:"admin_id,omitempty" validate:"required_if=Enabled true"`
	Timeout int    `toml:"timeout,omitempty"` // long-poll timeout in seconds
}

// FeedConfig configures the social-feed poller.
type FeedConfig struct {
	Enabled     bool   `toml:"enabled"`
	BaseURL     string `toml:"base_url,omitempty"`
	BearerToken string `toml:"bearer_token,omitempty" validate:"required_if=Enabled true"`
	UserID      string `toml:"user_id,omitempty" validate:"required_if=Enabled true"`
	Count       int    `toml:"count,omitempty"`
	Interval    string `toml:"interval,omitempty"`
}

// PollInterval returns the parsed feed poll interval.
func (f FeedConfig) PollInterval() (time.Duration, error) {
	return parsePositiveDuration("feed.interval", f.Interval)
}

// EncryptionConfig holds paths to the age key pair used for database snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age test"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
	// PublishSnapshot uploads an encrypted database snapshot with every rebuild.
	PublishSnapshot bool `toml:"publish_snapshot"`
}

// MetricsConfig configures the metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr,omitempty" validate:"required_if=Enabled true"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "bowtie.db"),
		},
		Paths: PathsConfig{
			Downloads: filepath.Join(baseDir, "downloads"),
			Web:       filepath.Join(baseDir, "web"),
		},
		Build: BuildConfig{
			PageBudget:        120000,
			Window:            100,
			MaxEntriesPerPage: 10,
			PollInterval:      "1s",
		},
		Media: MediaConfig{
			ConvertPath: "convert",
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Publisher: PublisherConfig{
			Type:        "none",
			MaxFailures: 5,
		},
		Telegram: TelegramConfig{Timeout: 60},
		Feed: FeedConfig{
			BaseURL:  "https://api.twitter.com",
			Count:    10,
			Interval: "60s",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "bowtie.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "bowtie.key"),
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the durations carried as strings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Build.Interval(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Feed.Enabled {
		if _, err := c.Feed.PollInterval(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

func parsePositiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", field, s)
	}
	return d, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry publisher and bot credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
