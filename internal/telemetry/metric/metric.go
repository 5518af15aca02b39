package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokgate"

// Connection results.
const (
	ConnAccepted = "accepted"
	ConnRejected = "rejected"
)

// Auth outcomes.
const (
	AuthSuccess     = "success"
	AuthFailure     = "failure"
	AuthRateLimited = "rate_limited"
)

// Session events.
const (
	SessionCreated = "created"
	SessionExpired = "expired"
	SessionRevoked = "revoked"
	SessionRenewed = "renewed"
	SessionSwept   = "swept"
)

// Metrics holds the collectors of one server instance.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	authAttempts      *prometheus.CounterVec
	sessionEvents     *prometheus.CounterVec
	sessionsStored    prometheus.Gauge
}

// New creates a Metrics with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently being served.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands processed by verb and outcome.",
		}, []string{"command", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"command"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
		sessionsStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_stored",
			Help:      "Sessions held by the store at the last sweep.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsActive,
		m.connectionsTotal,
		m.commands,
		m.commandDuration,
		m.authAttempts,
		m.sessionEvents,
		m.sessionsStored,
	)
	return m
}

// Registry returns the instance registry, for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.WithLabelValues(ConnAccepted).Inc()
}

// ConnClosed records the end of an accepted connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnRejected records a connection refused at the limit.
func (m *Metrics) ConnRejected() {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(ConnRejected).Inc()
}

// ObserveCommand records one handled command.
func (m *Metrics) ObserveCommand(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// AuthAttempt records a login outcome.
func (m *Metrics) AuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(outcome).Inc()
}

// SessionEvent adds n to a session event counter.
func (m *Metrics) SessionEvent(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionEvents.WithLabelValues(event).Add(float64(n))
}

// SetSessionsStored sets the stored sessions gauge.
func (m *Metrics) SetSessionsStored(n int) {
	if m == nil {
		return
	}
	m.sessionsStored.Set(float64(n))
}
