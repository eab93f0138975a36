package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bowtie-go/internal/app"
	"bowtie-go/internal/config"
	"bowtie-go/internal/database"
	"bowtie-go/internal/encryption"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and builds an App. The caller must defer Close.
func newApp(ctx context.Context, command string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "bowtie",
	Short:        "Archive messages into a static web site",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, feed poller and archive rebuilds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(ctx)
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Regenerate and publish the archive once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "rebuild")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Rebuild(cmd.Context())
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Printf("Wrote %d page(s), %d file(s); uploaded %d\n", len(res.Pages), len(res.Files), res.Uploaded)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the newest entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Entries(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No entries.")
			return nil
		}
		for _, e := range entries {
			name := e.DisplayName
			if name == "" {
				name = "-"
			}
			fmt.Printf("#%d  %s  %-16s  %s\n",
				e.ID,
				time.Unix(e.Date, 0).UTC().Format("2006-01-02 15:04:05"),
				name,
				e.Content,
			)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bring the database schema up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.NewDatabaseFromConfig(cfg.Database, nil)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.CheckMigrations(); err != nil {
			return err
		}
		fmt.Printf("Schema up to date: %s\n", cfg.Database.Path)
		return nil
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Database:   %s\n", cfg.Database.Path)
		fmt.Printf("Downloads:  %s\n", cfg.Paths.Downloads)
		fmt.Printf("Web:        %s\n", cfg.Paths.Web)
		fmt.Printf("Publisher:  %s\n", cfg.Publisher.Type)
		fmt.Printf("Telegram:   %t\n", cfg.Telegram.Enabled)
		fmt.Printf("Feed:       %t\n", cfg.Feed.Enabled)
		fmt.Printf("Metrics:    %t\n", cfg.Metrics.Enabled)
		fmt.Printf("Snapshots:  %t\n", cfg.Encryption.PublishSnapshot)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Read a stored setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "config-get")
		if err != nil {
			return err
		}
		defer a.Close()

		v, ok, err := a.Setting(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "config-set")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetSetting(cmd.Context(), args[0], args[1])
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage encrypted database snapshots",
}

var snapshotKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}
		if err := app.GenerateKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [PATH]",
	Short: "Write an encrypted database snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := encryption.SnapshotName
		if len(args) > 0 {
			target = args[0]
		}
		abs, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newApp(cmd.Context(), "snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Snapshot(cmd.Context(), filepath.Dir(abs), filepath.Base(abs)); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", abs)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore PATH",
	Short: "Restore the database from an encrypted snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.RestoreSnapshot(cfg, pass, args[0], force); err != nil {
			return err
		}
		fmt.Printf("Database restored to %s\n", cfg.Database.Path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)

	snapshotCmd.AddCommand(snapshotKeygenCmd)
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotRestoreCmd.Flags().BoolP("force", "f", false, "Replace an existing database")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntP("limit", "n", 10, "Maximum number of entries to show")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)
}
