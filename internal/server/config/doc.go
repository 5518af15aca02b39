// Package config defines the tokgate server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: secret masking for logs
//
// Configuration is loaded by internal/infra/confloader from a YAML file, an
// optional .env file and TOKGATE_* environment variables, in that order.
package config
