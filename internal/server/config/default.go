package config

import "time"

// Default configuration values.
const (
	DefaultListenAddr   = "127.0.0.1:7379"
	DefaultMaxConns     = 1024
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultDrainTimeout = 10 * time.Second

	DefaultAdminAddr = "127.0.0.1:7380"

	DefaultSessionTTL    = 30 * time.Minute
	DefaultMaxTTL        = 24 * time.Hour
	DefaultMaxSessions   = 1_000_000
	DefaultSweepInterval = time.Minute

	DefaultBackend        = BackendMemory
	DefaultDataDir        = "/var/lib/tokgate/data"
	DefaultSQLitePath     = "/var/lib/tokgate/sessions.db"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultRedisKeyPrefix = "tokgate:"

	DefaultLoginRate  = 5
	DefaultLoginBurst = 5

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "stdout"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			ListenAddr:   DefaultListenAddr,
			MaxConns:     DefaultMaxConns,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			DrainTimeout: DefaultDrainTimeout,
		},
		Admin: AdminSection{
			Addr: DefaultAdminAddr,
		},
		Session: SessionSection{
			DefaultTTL:    DefaultSessionTTL,
			MaxTTL:        DefaultMaxTTL,
			MaxSessions:   DefaultMaxSessions,
			SweepInterval: DefaultSweepInterval,
		},
		Storage: StorageSection{
			Backend:    DefaultBackend,
			DataDir:    DefaultDataDir,
			SQLitePath: DefaultSQLitePath,
			Redis: RedisSection{
				Addr:      DefaultRedisAddr,
				KeyPrefix: DefaultRedisKeyPrefix,
			},
		},
		Auth: AuthSection{
			Users:      map[string]string{},
			LoginRate:  DefaultLoginRate,
			LoginBurst: DefaultLoginBurst,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Output: DefaultLogOutput,
		},
	}
}
