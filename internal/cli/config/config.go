package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/tokgate/internal/cli/output"
	"github.com/yndnr/tokgate/internal/cli/repl"
	"github.com/yndnr/tokgate/internal/infra/confloader"
)

// EnvPrefix is the environment prefix of CLI settings.
const EnvPrefix = "TOKGATE_CLI_"

// CLIConfig is the configuration of tokgate-cli.
type CLIConfig struct {
	// Server is the protocol listener address.
	Server string `koanf:"server"`
	// Admin is the admin endpoint address.
	Admin string `koanf:"admin"`
	// Output is table, json or yaml.
	Output  string        `koanf:"output"`
	Timeout time.Duration `koanf:"timeout"`
	// HistoryFile stores interactive history. Empty disables persistence.
	HistoryFile string `koanf:"history_file"`
}

// Default returns the built-in settings.
func Default() *CLIConfig {
	cfg := &CLIConfig{
		Server:  "127.0.0.1:7379",
		Admin:   "127.0.0.1:7380",
		Output:  string(output.FormatTable),
		Timeout: 10 * time.Second,
	}
	cfg.HistoryFile = repl.DefaultHistoryFile()
	return cfg
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tokgate")
}

// DefaultPath returns ~/.tokgate/cli.yaml, or "" without a home directory.
func DefaultPath() string {
	if dir := defaultDir(); dir != "" {
		return filepath.Join(dir, "cli.yaml")
	}
	return ""
}

// Load reads path (DefaultPath when empty) and the environment. A missing
// default file is skipped; a missing explicit file is an error.
func Load(path string) (*CLIConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	opts := []confloader.Option{confloader.WithEnvPrefix(EnvPrefix)}
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case err == nil:
			opts = append(opts, confloader.WithConfigFile(path))
		case !errors.Is(err, os.ErrNotExist) || explicit:
			return nil, fmt.Errorf("cli config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings.
func (c *CLIConfig) Validate() error {
	if c.Server == "" {
		return errors.New("server address is required")
	}
	if _, err := output.ParseFormat(c.Output); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
