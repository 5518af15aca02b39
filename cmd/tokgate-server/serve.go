package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokgate/internal/infra/buildinfo"
	"github.com/yndnr/tokgate/internal/infra/confloader"
	"github.com/yndnr/tokgate/internal/infra/shutdown"
	"github.com/yndnr/tokgate/internal/server/config"
	"github.com/yndnr/tokgate/internal/server/lifecycle"
	"github.com/yndnr/tokgate/internal/telemetry/logger"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the server until SIGINT or SIGTERM",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"TOKGATE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a .env file with TOKGATE_* variables",
			},
			&cli.BoolFlag{
				Name:  "watch-config",
				Usage: "re-apply log.level when the configuration file changes",
			},
		},
		Action: func(c *cli.Context) error {
			return serve(c.Context, serveOptions{
				configFile:  c.String("config"),
				envFile:     c.String("env-file"),
				watchConfig: c.Bool("watch-config"),
			})
		},
	}
}

type serveOptions struct {
	configFile  string
	envFile     string
	watchConfig bool
}

func (o serveOptions) loaderOptions() []confloader.Option {
	var opts []confloader.Option
	if o.configFile != "" {
		opts = append(opts, confloader.WithConfigFile(o.configFile))
	}
	if o.envFile != "" {
		opts = append(opts, confloader.WithEnvFile(o.envFile))
	}
	return opts
}

// loadConfig builds the configuration from defaults and every source.
func loadConfig(o serveOptions) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := confloader.NewLoader(o.loaderOptions()...).Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, o serveOptions) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting tokgate-server",
		"version", info.Version,
		"commit", info.Commit,
		"config_file", o.configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctrl := lifecycle.New(cfg, log, metric.New())
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	handler := shutdown.NewHandler(cfg.Server.DrainTimeout+cfg.Server.WriteTimeout, log)
	handler.OnShutdown(func(ctx context.Context) error {
		return ctrl.Stop(ctx)
	})

	if o.watchConfig && o.configFile != "" {
		stop, err := watchLogLevel(o, log)
		if err != nil {
			log.Warn("configuration watch disabled", "error", err)
		} else {
			handler.OnShutdown(func(context.Context) error { return stop.Close() })
		}
	}

	if err := handler.Wait(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped gracefully")
	return nil
}

// watchLogLevel re-reads the configuration on change and applies log.level.
// Other settings need a restart.
func watchLogLevel(o serveOptions, log *slog.Logger) (io.Closer, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(o.configFile); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(o)
		if err != nil {
			log.Warn("configuration reload failed", "error", err)
			return
		}
		if cfg.Log.Level == logger.GetLevel() {
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("log level not applied", "level", cfg.Log.Level, "error", err)
			return
		}
		log.Info("log level changed", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return w, nil
}
