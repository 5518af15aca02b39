package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session constraints.
const (
	MaxIdentityLength   = 128
	MaxRemoteAddrLength = 64

	// SessionIDPrefix is the prefix for session IDs.
	SessionIDPrefix = "tgss-"
)

// Session is an authenticated session.
//
// Times are Unix milliseconds. A session is valid while now <= ExpiresAt.
type Session struct {
	// ID identifies the session in logs. Format: tgss-{ulid_lowercase}.
	ID string `json:"id"`

	// Identity is the authenticated principal that owns the session.
	Identity string `json:"identity"`

	// TokenHash is the SHA-256 hash of the session token. Format: tgth_{hex}.
	TokenHash string `json:"token_hash"`

	// RemoteAddr is the client address at session creation.
	RemoteAddr string `json:"remote_addr"`

	CreatedAt  int64 `json:"created_at"`
	ExpiresAt  int64 `json:"expires_at"`
	LastActive int64 `json:"last_active"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSession creates a Session for identity with a generated ID, created at
// now and expiring after ttl.
func NewSession(identity, tokenHash, remoteAddr string, now time.Time, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, ErrInvalidArgument.WithDetails("ttl must be positive")
	}
	id, err := GenerateSessionID(now)
	if err != nil {
		return nil, err
	}
	created := now.UnixMilli()
	s := &Session{
		ID:         id,
		Identity:   identity,
		TokenHash:  tokenHash,
		RemoteAddr: remoteAddr,
		CreatedAt:  created,
		ExpiresAt:  created + ttl.Milliseconds(),
		LastActive: created,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateSessionID generates a session ID from a ULID stamped at now.
func GenerateSessionID(now time.Time) (string, error) {
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// IsExpiredAt reports whether the session is expired at nowMs.
func (s *Session) IsExpiredAt(nowMs int64) bool {
	return nowMs > s.ExpiresAt
}

// TTLAt returns the remaining lifetime at nowMs, or 0 once expired.
func (s *Session) TTLAt(nowMs int64) time.Duration {
	remaining := s.ExpiresAt - nowMs
	if remaining < 0 {
		return 0
	}
	return time.Duration(remaining) * time.Millisecond
}

// Validate checks the structural invariants of a session.
func (s *Session) Validate() error {
	switch {
	case s.Identity == "":
		return ErrSessionValidation.WithDetails("identity is required")
	case len(s.Identity) > MaxIdentityLength:
		return ErrSessionValidation.WithDetails("identity too long")
	case strings.ContainsAny(s.Identity, " \t\r\n"):
		return ErrSessionValidation.WithDetails("identity contains whitespace")
	case len(s.RemoteAddr) > MaxRemoteAddrLength:
		return ErrSessionValidation.WithDetails("remote address too long")
	case !ValidateTokenHashFormat(s.TokenHash):
		return ErrSessionValidation.WithDetails("invalid token hash")
	case s.ExpiresAt <= s.CreatedAt:
		return ErrSessionValidation.WithDetails("expires_at must be after created_at")
	}
	return nil
}

// Clone returns a copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
