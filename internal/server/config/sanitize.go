package config

import (
	"maps"
	"strings"
)

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if sanitized.Storage.Redis.Password != "" {
		sanitized.Storage.Redis.Password = maskSecret(sanitized.Storage.Redis.Password)
	}

	// Only identities are logged, never their hashes.
	if len(cfg.Auth.Users) > 0 {
		sanitized.Auth.Users = maps.Clone(cfg.Auth.Users)
		for identity := range sanitized.Auth.Users {
			sanitized.Auth.Users[identity] = "****"
		}
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
