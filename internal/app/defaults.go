package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations used when no flag overrides them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
}

// GetDefaults resolves default paths, checking environment variables first:
//   - BOWTIE_CONFIG_PATH: config file (default ~/.config/bowtie.toml)
//   - BOWTIE_HOME: data directory (default ~/.local/share/bowtie)
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv("BOWTIE_CONFIG_PATH")
	baseDir := os.Getenv("BOWTIE_HOME")
	if configPath != "" && baseDir != "" {
		return &Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(home, ".config", "bowtie.toml")
	}
	if baseDir == "" {
		baseDir = filepath.Join(home, ".local", "share", "bowtie")
	}
	return &Defaults{ConfigPath: configPath, BaseDir: baseDir}, nil
}
