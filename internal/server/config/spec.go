package config

import "time"

// ServerConfig is the root configuration for tokgate-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Admin   AdminSection   `koanf:"admin"`
	Session SessionSection `koanf:"session"`
	Storage StorageSection `koanf:"storage"`
	Auth    AuthSection    `koanf:"auth"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the connection listener.
type ServerSection struct {
	ListenAddr   string        `koanf:"listen_addr"`
	MaxConns     int           `koanf:"max_conns"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	DrainTimeout time.Duration `koanf:"drain_timeout"`
}

// AdminSection configures the admin HTTP endpoint. An empty Addr disables it.
type AdminSection struct {
	Addr string `koanf:"addr"`
}

// SessionSection configures session lifetimes and limits.
type SessionSection struct {
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxTTL     time.Duration `koanf:"max_ttl"`

	// MaxSessions caps the store size. 0 means unlimited.
	MaxSessions int `koanf:"max_sessions"`

	// MaxSessionsPerIdentity caps sessions per identity. 0 means unlimited.
	MaxSessionsPerIdentity int `koanf:"max_sessions_per_identity"`

	// SweepInterval is the period of the expired session sweep.
	// 0 disables it; expiry on lookup is always active.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StorageSection selects and configures the session store backend.
type StorageSection struct {
	Backend    string       `koanf:"backend"`
	DataDir    string       `koanf:"data_dir"`
	SQLitePath string       `koanf:"sqlite_path"`
	Redis      RedisSection `koanf:"redis"`
}

// RedisSection configures the redis backend.
type RedisSection struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// AuthSection configures password logins.
type AuthSection struct {
	// Users maps identities to argon2id or bcrypt password hashes.
	Users map[string]string `koanf:"users"`

	// LoginRate is the number of login attempts allowed per client IP per
	// minute. 0 disables rate limiting.
	LoginRate int `koanf:"login_rate"`

	// LoginBurst is the number of attempts allowed at once.
	LoginBurst int `koanf:"login_burst"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// Output is "stdout", "stderr" or a file path.
	Output string `koanf:"output"`
}
