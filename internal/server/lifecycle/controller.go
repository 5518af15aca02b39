package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/core/service"
	"github.com/yndnr/tokgate/internal/server/adminserver"
	"github.com/yndnr/tokgate/internal/server/config"
	"github.com/yndnr/tokgate/internal/server/sockserver"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

// limiterIdle is how long a client's login limiter is kept without attempts.
const limiterIdle = 10 * time.Minute

// Option configures a Controller.
type Option func(*Controller)

// WithStoreFactory replaces OpenStore.
func WithStoreFactory(f StoreFactory) Option {
	return func(c *Controller) { c.openStore = f }
}

// WithClock overrides the time source of sessions and stores.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithVerifier replaces the verifier built from auth.users.
func WithVerifier(v service.CredentialVerifier) Option {
	return func(c *Controller) { c.verifier = v }
}

// Controller runs the server described by a ServerConfig.
type Controller struct {
	cfg       *config.ServerConfig
	logger    *slog.Logger
	metrics   *metric.Metrics
	openStore StoreFactory
	now       func() time.Time
	verifier  service.CredentialVerifier

	mu  sync.Mutex
	run *run
}

// run holds everything owned by one Start..Stop cycle.
type run struct {
	store    storage.SessionStore
	sessions *service.SessionService
	limiter  *service.LoginLimiter
	sock     *sockserver.Server
	admin    *adminserver.Server

	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// New creates a Controller. metrics may be nil.
func New(cfg *config.ServerConfig, logger *slog.Logger, m *metric.Metrics, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		openStore: OpenStore,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens the store and starts serving. It returns domain.ErrBind when
// an address cannot be bound; everything opened so far is released.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return domain.ErrAlreadyRunning
	}

	verifier := c.verifier
	if verifier == nil {
		v, err := service.NewStaticVerifier(c.cfg.Auth.Users)
		if err != nil {
			return fmt.Errorf("load users: %w", err)
		}
		verifier = v
	}

	var reg prometheus.Registerer
	if c.metrics != nil {
		reg = c.metrics.Registry()
	}
	store, err := c.openStore(ctx, c.cfg.Storage, storage.Options{
		MaxSessions:            c.cfg.Session.MaxSessions,
		MaxSessionsPerIdentity: c.cfg.Session.MaxSessionsPerIdentity,
		Now:                    c.now,
		Logger:                 c.logger,
	}, reg)
	if err != nil {
		return domain.ErrStorageError.WithDetails(c.cfg.Storage.Backend).WithCause(err)
	}

	r := &run{store: store}
	r.sessions = service.NewSessionService(store, service.SessionConfig{
		DefaultTTL: c.cfg.Session.DefaultTTL,
		MaxTTL:     c.cfg.Session.MaxTTL,
	}, c.logger, service.WithClock(c.now), service.WithMetrics(c.metrics))
	r.limiter = service.NewLoginLimiter(c.cfg.Auth.LoginRate, c.cfg.Auth.LoginBurst)
	auth := service.NewAuthService(verifier, r.limiter, r.sessions, c.logger, c.metrics)

	bgCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.bg.Add(2)
	go func() {
		defer r.bg.Done()
		r.sessions.RunSweeper(bgCtx, c.cfg.Session.SweepInterval)
	}()
	go func() {
		defer r.bg.Done()
		pruneLimiter(bgCtx, r.limiter)
	}()

	srv := c.cfg.Server
	r.sock = sockserver.New(sockserver.Config{
		ListenAddr:   srv.ListenAddr,
		MaxConns:     srv.MaxConns,
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
		DrainTimeout: srv.DrainTimeout,
	}, r.sessions, auth, c.logger, c.metrics)
	if err := r.sock.Start(ctx); err != nil {
		c.rollback(r)
		return err
	}

	if c.cfg.Admin.Addr != "" {
		r.admin = adminserver.New(c.cfg.Admin.Addr, adminserver.NewRouter(adminserver.RouterConfig{
			Metrics: c.metrics,
			Ready:   r.ready,
			Stats:   r.stats,
			Logger:  c.logger,
		}), c.logger)
		if err := r.admin.Start(ctx); err != nil {
			_ = r.sock.Shutdown(ctx)
			c.rollback(r)
			return err
		}
	}

	c.run = r
	c.logger.Info("server started",
		"listen_addr", r.sock.Addr().String(),
		"admin_addr", c.cfg.Admin.Addr,
		"storage", c.cfg.Storage.Backend)
	return nil
}

// rollback releases a partially started run.
func (c *Controller) rollback(r *run) {
	r.cancel()
	r.bg.Wait()
	if err := r.store.Close(); err != nil {
		c.logger.Error("close store failed", "error", err)
	}
}

// Stop drains connections and releases the store. After Stop returns no
// handler is writing to a socket.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return domain.ErrNotRunning
	}
	r := c.run
	c.run = nil

	var errs []error
	if err := r.sock.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("listener: %w", err))
	}
	if r.admin != nil {
		if err := r.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin: %w", err))
		}
	}
	r.cancel()
	r.bg.Wait()
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("shutdown completed with errors", "error", err)
	} else {
		c.logger.Info("server stopped")
	}
	return err
}

// Restart stops and starts the server. Sessions held by the memory backend
// are lost.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Running reports whether the server is started.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil
}

// Addr returns the listener address, or nil when stopped.
func (c *Controller) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.sock.Addr()
}

// AdminAddr returns the admin endpoint address, or nil when it is disabled
// or the server is stopped.
func (c *Controller) AdminAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || c.run.admin == nil {
		return nil
	}
	return c.run.admin.Addr()
}

// Sessions returns the session service of the current run, or nil.
func (c *Controller) Sessions() *service.SessionService {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.sessions
}

func (r *run) ready(ctx context.Context) error {
	_, err := r.store.Count(ctx)
	return err
}

func (r *run) stats(ctx context.Context) (adminserver.Stats, error) {
	n, err := r.sessions.Count(ctx)
	if err != nil {
		return adminserver.Stats{}, err
	}
	return adminserver.Stats{Sessions: n, Connections: r.sock.ActiveConns()}, nil
}

func pruneLimiter(ctx context.Context, l *service.LoginLimiter) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune(limiterIdle)
		case <-ctx.Done():
			return
		}
	}
}
