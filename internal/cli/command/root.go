package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/cli/config"
	"github.com/yndnr/tokgate/internal/cli/output"
	"github.com/yndnr/tokgate/internal/infra/buildinfo"
)

const settingsKey = "settings"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tokgate-cli",
		Usage:   "tokgate command-line client",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Before:  loadSettings,
		Commands: []*cli.Command{
			PingCommand(),
			LoginCommand(),
			WhoamiCommand(),
			DataCommand(),
			TTLCommand(),
			RenewCommand(),
			LogoutCommand(),
			AdminCommand(),
			ShellCommand(),
		},
	}
}

// globalFlags returns the global CLI flags. Unset flags fall back to the
// config file and TOKGATE_CLI_* variables.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "CLI config file (default ~/.tokgate/cli.yaml)",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "protocol listener address (default 127.0.0.1:7379)",
		},
		&cli.StringFlag{
			Name:  "admin",
			Usage: "admin endpoint address (default 127.0.0.1:7380)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout (default 10s)",
		},
	}
}

// loadSettings merges the config file, the environment and explicit flags.
func loadSettings(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("server") {
		cfg.Server = c.String("server")
	}
	if c.IsSet("admin") {
		cfg.Admin = c.String("admin")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.App.Metadata[settingsKey] = cfg
	return nil
}

// Settings returns the merged CLI settings.
func Settings(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[settingsKey].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// render writes v in the selected output format.
func render(c *cli.Context, v any) error {
	format, err := output.ParseFormat(Settings(c).Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(c.App.Writer, v)
}

func timeout(c *cli.Context) time.Duration {
	return Settings(c).Timeout
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
