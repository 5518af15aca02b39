// Package config loads the tokgate-cli settings.
//
// Sources, lowest priority first: built-in defaults, ~/.tokgate/cli.yaml and
// TOKGATE_CLI_* environment variables. Command-line flags override all of
// them.
package config
