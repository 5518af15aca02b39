package adminserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yndnr/tokgate/internal/infra/buildinfo"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

const readyTimeout = 2 * time.Second

// Stats is the payload of GET /stats.
type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

// RouterConfig wires the endpoints to the running server.
type RouterConfig struct {
	// Metrics serves /metrics. Nil answers 404.
	Metrics *metric.Metrics

	// Ready reports whether the server can take requests. Nil is always ready.
	Ready func(ctx context.Context) error

	// Stats reports live counts. Nil disables /stats.
	Stats func(ctx context.Context) (Stats, error)

	Logger *slog.Logger
}

// NewRouter builds the admin routes.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adminserver")

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady(cfg.Ready, logger))
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	if cfg.Stats != nil {
		r.Get("/stats", handleStats(cfg.Stats, logger))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Get().Version,
	})
}

func handleReady(ready func(context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func handleStats(stats func(context.Context) (Stats, error), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := stats(r.Context())
		if err != nil {
			logger.Error("stats failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
