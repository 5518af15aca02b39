package sockserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/protocol/resp"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

// Config holds the connection server configuration.
type Config struct {
	// ListenAddr is the TCP address to bind, e.g. "127.0.0.1:7379".
	ListenAddr string
	// MaxConns bounds concurrently served connections. Connections beyond
	// the bound are rejected.
	MaxConns int
	// ReadTimeout bounds reading one command once its first byte arrived.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration
	// IdleTimeout bounds the wait for the next command.
	IdleTimeout time.Duration
	// DrainTimeout bounds how long Shutdown waits for handlers to exit on
	// their own.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:7379",
		MaxConns:     1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		DrainTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	return c
}

const (
	rejectWriteTimeout = 250 * time.Millisecond
	maxAcceptBackoff   = time.Second
)

// Server accepts and serves client connections.
type Server struct {
	cfg     Config
	handler *handler
	logger  *slog.Logger
	metrics *metric.Metrics
	sem     *semaphore.Weighted

	// baseCtx is passed to service calls and cancelled when remaining
	// connections are force-closed.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	ln      net.Listener
	started bool
	closing bool
	conns   map[string]*Conn

	quit       chan struct{}
	acceptDone chan struct{}
	wg         sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server. metrics may be nil.
func New(cfg Config, sessions *service.SessionService, auth *service.AuthService, logger *slog.Logger, m *metric.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	logger = logger.With("component", "sockserver")
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		handler:    newHandler(sessions, auth, logger),
		logger:     logger,
		metrics:    m,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConns)),
		baseCtx:    ctx,
		cancel:     cancel,
		conns:      make(map[string]*Conn),
		quit:       make(chan struct{}),
		acceptDone: make(chan struct{}),
	}
}

// Start binds the listen address and starts the accept loop. A bind failure
// is returned as domain.ErrBind. A Server can be started once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return domain.ErrAlreadyRunning
	}
	if s.closing {
		return domain.ErrNotRunning.WithDetails("server has been shut down")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		s.logger.Error("bind failed", "addr", s.cfg.ListenAddr, "error", err)
		return domain.ErrBind.WithDetails(s.cfg.ListenAddr).WithCause(err)
	}
	s.ln = ln
	s.started = true
	s.logger.Info("listening", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	go s.acceptLoop(ln)
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

// ActiveConns returns the number of registered connections.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosing() {
				return
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-s.quit:
				return
			}
		}
		backoff = 0

		if !s.sem.TryAcquire(1) {
			s.reject(nc)
			continue
		}

		c := newConn(nc)
		if !s.register(c) {
			s.sem.Release(1)
			_ = nc.Close()
			return
		}
		go s.serve(c)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// register adds c to the active set. It fails once shutdown has begun so
// that the WaitGroup is never incremented after Shutdown started waiting.
func (s *Server) register(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return true
}

// unregister frees the slot before removing c, so ActiveConns never reports
// a slot that is still held.
func (s *Server) unregister(c *Conn) {
	s.sem.Release(1)
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// reject refuses a connection beyond MaxConns.
func (s *Server) reject(nc net.Conn) {
	s.metrics.ConnRejected()
	s.logger.Warn("connection rejected",
		"remote_addr", nc.RemoteAddr().String(),
		"reason", "max_conns",
		"max_conns", s.cfg.MaxConns)

	_ = nc.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	_, _ = io.WriteString(nc, "-"+errorText(domain.ErrConnectionLimit.WithDetails("too many connections"))+"\r\n")
	_ = nc.Close()
}

func (s *Server) serve(c *Conn) {
	defer s.wg.Done()
	defer s.unregister(c)

	s.metrics.ConnOpened()
	s.logger.Info("connection opened", "conn_id", c.id, "remote_addr", c.remoteAddr)

	reason := s.serveConn(c)

	c.setState(StateClosing)
	_ = c.Close()
	s.metrics.ConnClosed()
	s.logger.Info("connection closed",
		"conn_id", c.id,
		"remote_addr", c.remoteAddr,
		"identity", c.identity,
		"reason", reason,
		"duration", time.Since(c.openedAt))
}

// serveConn runs the request/response loop and returns why it ended.
func (s *Server) serveConn(c *Conn) string {
	for {
		// Wait for the first byte under the idle timeout.
		if !c.armRead(s.cfg.IdleTimeout) {
			return "shutdown"
		}
		if _, err := c.br.Peek(1); err != nil {
			return s.readEnded(c, err)
		}

		// Tighten to the per-command timeout once a command started.
		if !c.armRead(s.cfg.ReadTimeout) {
			return "shutdown"
		}
		cmd, err := resp.ReadCommand(c.br)
		if err != nil {
			if resp.IsProtocolError(err) {
				s.logger.Warn("protocol error", "conn_id", c.id, "remote_addr", c.remoteAddr, "error", err)
				s.metrics.ObserveCommand(verbUnknown, outcomeProtocol, 0)
				_ = resp.WriteError(c.bw, errorText(domain.ErrProtocol.WithDetails(err.Error())))
				_ = c.flush(s.cfg.WriteTimeout)
				return "protocol_error"
			}
			return s.readEnded(c, err)
		}
		if cmd == nil {
			continue
		}

		start := time.Now()
		res := s.handler.handle(s.baseCtx, c, cmd)
		s.metrics.ObserveCommand(res.verb, res.outcome, time.Since(start))

		if err := c.flush(s.cfg.WriteTimeout); err != nil {
			s.logger.Debug("write failed", "conn_id", c.id, "error", domain.ErrConnectionIO.WithCause(err))
			return "write_error"
		}
		if res.close {
			return res.reason
		}
	}
}

// readEnded classifies a read failure. None of them are reported to the
// peer.
func (s *Server) readEnded(c *Conn, err error) string {
	switch {
	case c.Draining():
		return "shutdown"
	case errors.Is(err, io.EOF):
		return "peer_closed"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Debug("connection timed out", "conn_id", c.id, "remote_addr", c.remoteAddr)
		return "timeout"
	}
	s.logger.Debug("connection read failed", "conn_id", c.id, "error", domain.ErrConnectionIO.WithCause(err))
	return "read_error"
}

// Shutdown stops accepting, signals every connection to drain and waits for
// the handlers. Connections still open after the drain timeout or when ctx
// is done are closed forcibly; Shutdown still waits for their handlers to
// return. Calling Shutdown again returns the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.ln
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	close(s.quit)

	var firstErr error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
		<-s.acceptDone
	}

	for _, c := range conns {
		c.drain()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("shutdown complete", "drained", len(conns))
		return firstErr
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	remaining := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		remaining = append(remaining, c)
	}
	s.mu.Unlock()

	s.logger.Warn("drain timeout, closing connections", "remaining", len(remaining))
	s.cancel()
	for _, c := range remaining {
		_ = c.Close()
	}
	<-done

	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}
