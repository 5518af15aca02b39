package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/tokgate/internal/core/domain"
)

// SessionStore is the session repository.
//
// Lookups are keyed by token hash. Implementations must be safe for
// concurrent use and must return copies, never shared pointers.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, s *domain.Session) error

	// GetByToken returns the live session for a token hash.
	GetByToken(ctx context.Context, tokenHash string) (*domain.Session, error)

	// Renew moves the expiry of a live session and returns the updated copy.
	Renew(ctx context.Context, tokenHash string, expiresAt int64) (*domain.Session, error)

	// DeleteByToken deletes a session and returns it.
	// Returns domain.ErrTokenInvalid when no session matches.
	DeleteByToken(ctx context.Context, tokenHash string) (*domain.Session, error)

	// DeleteByIdentity deletes every session of identity and returns the count.
	DeleteByIdentity(ctx context.Context, identity string) (int, error)

	// DeleteExpired removes expired sessions and returns the count.
	DeleteExpired(ctx context.Context) (int, error)

	// Count returns the number of stored sessions, expired ones included
	// until they are removed.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Options is the configuration shared by all backends.
type Options struct {
	// MaxSessions caps the number of stored sessions. 0 disables the cap.
	MaxSessions int

	// MaxSessionsPerIdentity caps sessions per identity. 0 disables the cap.
	MaxSessionsPerIdentity int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives backend diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// WithDefaults returns o with zero fields filled in.
func (o Options) WithDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NowMs returns the current time in Unix milliseconds.
func (o Options) NowMs() int64 {
	return o.Now().UnixMilli()
}

// AtCapacity reports whether count sessions fill the store.
func (o Options) AtCapacity(count int) bool {
	return o.MaxSessions > 0 && count >= o.MaxSessions
}

// AtQuota reports whether count sessions fill an identity's quota.
func (o Options) AtQuota(count int) bool {
	return o.MaxSessionsPerIdentity > 0 && count >= o.MaxSessionsPerIdentity
}

// CapacityError builds the error returned when the store is full.
func CapacityError(max int) error {
	return domain.ErrSessionCapacity.WithDetails("limit " + itoa(max))
}

// QuotaError builds the error returned when an identity is at its quota.
func QuotaError(identity string, max int) error {
	return domain.ErrSessionQuotaExceeded.WithDetails(identity + " holds " + itoa(max))
}

// Wrap converts a backend failure into domain.ErrStorageError unless it
// already is a domain error.
func Wrap(op string, err error) error {
	if err == nil || domain.IsDomainError(err, "") {
		return err
	}
	return domain.ErrStorageError.WithDetails(op).WithCause(err)
}
