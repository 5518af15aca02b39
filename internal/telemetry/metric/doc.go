// Package metric provides Prometheus metrics for tokgate.
//
// Each server instance owns its own prometheus.Registry, so several servers
// can run in one process (tests) without colliding on the global registry.
//
// Metrics:
//
//   - tokgate_connections_active / tokgate_connections_total{result}
//   - tokgate_commands_total{command,outcome} and tokgate_command_duration_seconds{command}
//   - tokgate_auth_attempts_total{outcome}
//   - tokgate_session_events_total{event} and tokgate_sessions_stored
//
// All methods on *Metrics are safe on a nil receiver.
package metric
