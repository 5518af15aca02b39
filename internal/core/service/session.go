package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

// Session lifetime defaults.
const (
	DefaultSessionTTL = 30 * time.Minute
	DefaultMaxTTL     = 24 * time.Hour
)

// SessionConfig configures SessionService.
type SessionConfig struct {
	// DefaultTTL applies when Create is called with ttl == 0.
	DefaultTTL time.Duration

	// MaxTTL clamps requested lifetimes.
	MaxTTL time.Duration
}

// SessionService handles session lifecycle operations.
type SessionService struct {
	store   storage.SessionStore
	cfg     SessionConfig
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// WithMetrics records session events on m.
func WithMetrics(m *metric.Metrics) SessionOption {
	return func(s *SessionService) { s.metrics = m }
}

// NewSessionService creates a new SessionService.
func NewSessionService(store storage.SessionStore, cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) *SessionService {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultSessionTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultMaxTTL
	}
	if cfg.DefaultTTL > cfg.MaxTTL {
		cfg.DefaultTTL = cfg.MaxTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SessionService{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *SessionService) Store() storage.SessionStore {
	return s.store
}

// Now returns the current time of the service clock.
func (s *SessionService) Now() time.Time {
	return s.now()
}

// effectiveTTL maps 0 to the default and clamps to the maximum. Session
// times have millisecond resolution, so a fractional millisecond rounds up.
func (s *SessionService) effectiveTTL(ttl time.Duration) (time.Duration, error) {
	switch {
	case ttl < 0:
		return 0, domain.ErrInvalidArgument.WithDetails("ttl must be positive")
	case ttl == 0:
		return s.cfg.DefaultTTL, nil
	case ttl > s.cfg.MaxTTL:
		return s.cfg.MaxTTL, nil
	}
	if rem := ttl % time.Millisecond; rem != 0 {
		ttl += time.Millisecond - rem
	}
	return ttl, nil
}

// Create issues a new session for identity and returns the plaintext token.
//
// The token is the only copy of the secret; it is never stored or logged.
func (s *SessionService) Create(ctx context.Context, identity string, ttl time.Duration, remoteAddr string) (string, *domain.Session, error) {
	if identity == "" {
		return "", nil, domain.ErrMissingArgument.WithDetails("identity is required")
	}
	ttl, err := s.effectiveTTL(ttl)
	if err != nil {
		return "", nil, err
	}

	plain, hash, err := domain.GenerateToken()
	if err != nil {
		return "", nil, err
	}
	sess, err := domain.NewSession(identity, hash, remoteAddr, s.now(), ttl)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.Create(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrSessionCapacity) || errors.Is(err, domain.ErrSessionQuotaExceeded) {
			s.logger.Warn("session rejected", "identity", identity, "error", err)
		}
		return "", nil, err
	}

	s.metrics.SessionEvent(metric.SessionCreated, 1)
	s.logger.Info("session created",
		"session_id", sess.ID,
		"identity", identity,
		"remote_addr", remoteAddr,
		"ttl", ttl)
	return plain, sess, nil
}

// resolve checks the token format and returns its hash.
func resolve(token string) (string, error) {
	if !domain.ValidateTokenFormat(token) {
		return "", domain.ErrTokenMalformed
	}
	return domain.HashToken(token), nil
}

// Validate returns the live session for token.
//
// Returns domain.ErrTokenMalformed, domain.ErrTokenInvalid or
// domain.ErrSessionExpired. The returned session has LastActive set to now;
// the touch is not persisted.
func (s *SessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	hash, err := resolve(token)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetByToken(ctx, hash)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.metrics.SessionEvent(metric.SessionExpired, 1)
			s.logger.Info("session expired", "token_hash", hash)
		}
		return nil, err
	}
	sess.LastActive = s.now().UnixMilli()
	return sess, nil
}

// TTL returns the remaining lifetime of token.
func (s *SessionService) TTL(ctx context.Context, token string) (time.Duration, error) {
	sess, err := s.Validate(ctx, token)
	if err != nil {
		return 0, err
	}
	return sess.TTLAt(s.now().UnixMilli()), nil
}

// Renew extends token to expire ttl from now (0 uses the default lifetime)
// and returns the new expiry.
func (s *SessionService) Renew(ctx context.Context, token string, ttl time.Duration) (time.Time, error) {
	hash, err := resolve(token)
	if err != nil {
		return time.Time{}, err
	}
	ttl, err = s.effectiveTTL(ttl)
	if err != nil {
		return time.Time{}, err
	}
	expiresAt := s.now().Add(ttl)
	sess, err := s.store.Renew(ctx, hash, expiresAt.UnixMilli())
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.metrics.SessionEvent(metric.SessionExpired, 1)
			s.logger.Info("session expired", "token_hash", hash)
		}
		return time.Time{}, err
	}
	s.metrics.SessionEvent(metric.SessionRenewed, 1)
	s.logger.Debug("session renewed", "session_id", sess.ID, "ttl", ttl)
	return time.UnixMilli(sess.ExpiresAt), nil
}

// Revoke deletes the session of token. Unknown and expired tokens are a
// successful no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	hash, err := resolve(token)
	if err != nil {
		return err
	}
	sess, err := s.store.DeleteByToken(ctx, hash)
	if errors.Is(err, domain.ErrTokenInvalid) {
		return nil
	}
	if err != nil {
		return err
	}
	s.metrics.SessionEvent(metric.SessionRevoked, 1)
	s.logger.Info("session revoked", "session_id", sess.ID, "identity", sess.Identity)
	return nil
}

// RevokeIdentity deletes every session of identity and returns the count.
func (s *SessionService) RevokeIdentity(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, domain.ErrMissingArgument.WithDetails("identity is required")
	}
	n, err := s.store.DeleteByIdentity(ctx, identity)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.SessionEvent(metric.SessionRevoked, n)
		s.logger.Info("session revoked", "identity", identity, "count", n)
	}
	return n, nil
}

// Count returns the number of stored sessions.
func (s *SessionService) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Sweep removes expired sessions and returns the count.
func (s *SessionService) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.SessionEvent(metric.SessionSwept, n)
	if total, err := s.store.Count(ctx); err == nil {
		s.metrics.SetSessionsStored(total)
	}
	if n > 0 {
		s.logger.Debug("expired sessions swept", "count", n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
// An interval <= 0 returns immediately.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
