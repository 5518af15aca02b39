package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/telemetry/metric"
)

// AuthService performs password logins.
type AuthService struct {
	verifier CredentialVerifier
	limiter  *LoginLimiter
	sessions *SessionService
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// NewAuthService creates a new AuthService. limiter and m may be nil.
func NewAuthService(verifier CredentialVerifier, limiter *LoginLimiter, sessions *SessionService, logger *slog.Logger, m *metric.Metrics) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		verifier: verifier,
		limiter:  limiter,
		sessions: sessions,
		logger:   logger.With("component", "auth"),
		metrics:  m,
	}
}

// LoginRequest carries one LOGIN attempt.
type LoginRequest struct {
	Identity   string
	Password   string
	TTL        time.Duration // 0 uses the default lifetime
	RemoteAddr string
}

// Login verifies the credentials and issues a session token.
//
// Returns domain.ErrRateLimited when the client exceeded its attempt budget
// and domain.ErrAuthenticationFailed for bad credentials. Session store
// errors (capacity, quota) pass through.
func (a *AuthService) Login(ctx context.Context, req LoginRequest) (string, *domain.Session, error) {
	if !a.limiter.Allow(clientKey(req.RemoteAddr)) {
		a.metrics.AuthAttempt(metric.AuthRateLimited)
		a.logger.Warn("auth failed", "identity", req.Identity, "remote_addr", req.RemoteAddr, "reason", "rate_limited")
		return "", nil, domain.ErrRateLimited
	}

	if err := a.verifier.Verify(ctx, req.Identity, req.Password); err != nil {
		a.metrics.AuthAttempt(metric.AuthFailure)
		a.logger.Warn("auth failed", "identity", req.Identity, "remote_addr", req.RemoteAddr, "reason", "bad_credentials")
		if errors.Is(err, domain.ErrAuthenticationFailed) {
			return "", nil, err
		}
		return "", nil, domain.ErrAuthenticationFailed.WithCause(err)
	}

	token, sess, err := a.sessions.Create(ctx, req.Identity, req.TTL, req.RemoteAddr)
	if err != nil {
		a.metrics.AuthAttempt(metric.AuthFailure)
		return "", nil, err
	}
	a.metrics.AuthAttempt(metric.AuthSuccess)
	a.logger.Info("auth succeeded", "identity", req.Identity, "session_id", sess.ID, "remote_addr", req.RemoteAddr)
	return token, sess, nil
}

// clientKey strips the port so all connections from one host share a budget.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
