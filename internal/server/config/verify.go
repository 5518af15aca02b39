package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if cfg.Admin.Addr != "" {
		if err := verifyAddr("admin.addr", cfg.Admin.Addr); err != nil {
			return err
		}
		if cfg.Admin.Addr == cfg.Server.ListenAddr {
			return errors.New("admin.addr must differ from server.listen_addr")
		}
	}
	if err := verifySession(&cfg.Session); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyAuth(&cfg.Auth); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyAddr(key, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", key, addr, err)
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if err := verifyAddr("server.listen_addr", cfg.ListenAddr); err != nil {
		return err
	}
	if cfg.MaxConns < 1 {
		return errors.New("server.max_conns must be at least 1")
	}
	timeouts := []struct {
		key string
		d   time.Duration
	}{
		{"server.read_timeout", cfg.ReadTimeout},
		{"server.write_timeout", cfg.WriteTimeout},
		{"server.idle_timeout", cfg.IdleTimeout},
		{"server.drain_timeout", cfg.DrainTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive", t.key)
		}
	}
	return nil
}

func verifySession(cfg *SessionSection) error {
	if cfg.DefaultTTL <= 0 {
		return errors.New("session.default_ttl must be positive")
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		return errors.New("session.max_ttl must not be shorter than session.default_ttl")
	}
	if cfg.MaxSessions < 0 {
		return errors.New("session.max_sessions must not be negative")
	}
	if cfg.MaxSessionsPerIdentity < 0 {
		return errors.New("session.max_sessions_per_identity must not be negative")
	}
	if cfg.SweepInterval < 0 {
		return errors.New("session.sweep_interval must not be negative")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Backend {
	case BackendMemory:
	case BackendBadger:
		if cfg.DataDir == "" {
			return errors.New("storage.data_dir is required for the badger backend")
		}
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return errors.New("cannot create data directory: " + err.Error())
		}
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendRedis:
		if err := verifyAddr("storage.redis.addr", cfg.Redis.Addr); err != nil {
			return err
		}
		if cfg.Redis.DB < 0 {
			return errors.New("storage.redis.db must not be negative")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q (want memory, badger, sqlite or redis)", cfg.Backend)
	}
	return nil
}

func verifyAuth(cfg *AuthSection) error {
	for identity, hash := range cfg.Users {
		if identity == "" || strings.ContainsAny(identity, " \t\r\n") {
			return fmt.Errorf("auth.users: invalid identity %q", identity)
		}
		if hash == "" {
			return fmt.Errorf("auth.users: identity %q has no password hash", identity)
		}
	}
	if cfg.LoginRate < 0 {
		return errors.New("auth.login_rate must not be negative")
	}
	if cfg.LoginBurst < 0 {
		return errors.New("auth.login_burst must not be negative")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch cfg.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q (want json or text)", cfg.Format)
	}
	if cfg.Output == "" {
		return errors.New("log.output is required")
	}
	return nil
}
