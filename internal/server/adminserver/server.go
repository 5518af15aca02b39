package adminserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
)

const readHeaderTimeout = 5 * time.Second

// Server is the admin HTTP server.
type Server struct {
	addr       string
	httpServer *http.Server
	logger     *slog.Logger

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

// New creates a Server for handler on addr.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "adminserver")
	return &Server{
		addr:   addr,
		logger: logger,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
	}
}

// Start binds the address and serves in the background. A bind failure is
// returned as domain.ErrBind.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return domain.ErrAlreadyRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.logger.Error("bind failed", "addr", s.addr, "error", err)
		return domain.ErrBind.WithDetails(s.addr).WithCause(err)
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.logger.Info("admin endpoint listening", "addr", ln.Addr().String())

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the server gracefully. Calling it before Start is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		_ = s.httpServer.Close()
	}
	<-done
	return err
}
