// Package logger builds the process log/slog logger.
//
//   - logger.go: handler construction, output selection, level control
//   - redact.go: masking of session tokens and secret-looking attributes
//
// Components receive the resulting *slog.Logger by injection and never log
// through package globals. The only package state is the level variable,
// so a config watcher can change verbosity at runtime.
package logger
