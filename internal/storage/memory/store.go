package memory

import (
	"context"
	"sync"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
	"github.com/yndnr/tokgate/pkg/cmap"
)

// Store is an in-memory storage.SessionStore.
type Store struct {
	opts storage.Options

	// TokenHash -> Session
	sessions *cmap.Map[*domain.Session]

	mu         sync.Mutex
	identities identityIndex
}

var _ storage.SessionStore = (*Store)(nil)

// New creates a new in-memory store.
func New(opts storage.Options) *Store {
	return &Store{
		opts:       opts.WithDefaults(),
		sessions:   cmap.New[*domain.Session](),
		identities: make(identityIndex),
	}
}

// Create stores a new session.
func (s *Store) Create(_ context.Context, sess *domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions.Has(sess.TokenHash) {
		return domain.ErrSessionConflict
	}

	now := s.opts.NowMs()
	if s.opts.AtQuota(s.identities.count(sess.Identity)) {
		s.purgeIdentityLocked(sess.Identity, now)
		if s.opts.AtQuota(s.identities.count(sess.Identity)) {
			return storage.QuotaError(sess.Identity, s.opts.MaxSessionsPerIdentity)
		}
	}
	if s.opts.AtCapacity(s.sessions.Count()) {
		s.purgeExpiredLocked(now)
		if s.opts.AtCapacity(s.sessions.Count()) {
			return storage.CapacityError(s.opts.MaxSessions)
		}
	}

	s.sessions.Set(sess.TokenHash, sess.Clone())
	s.identities.add(sess.Identity, sess.TokenHash)
	return nil
}

// GetByToken returns the live session for a token hash.
func (s *Store) GetByToken(_ context.Context, tokenHash string) (*domain.Session, error) {
	sess, ok := s.sessions.Get(tokenHash)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	if !sess.IsExpiredAt(s.opts.NowMs()) {
		return sess.Clone(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions.PopIf(tokenHash, func(v *domain.Session) bool {
		return v.IsExpiredAt(s.opts.NowMs())
	}); ok {
		s.identities.remove(sess.Identity, tokenHash)
		return nil, domain.ErrSessionExpired
	}
	return nil, domain.ErrTokenInvalid
}

// Renew moves the expiry of a live session.
func (s *Store) Renew(_ context.Context, tokenHash string, expiresAt int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.NowMs()
	var (
		out *domain.Session
		err error
	)
	s.sessions.Compute(tokenHash, func(cur *domain.Session, exists bool) (*domain.Session, bool) {
		switch {
		case !exists:
			err = domain.ErrTokenInvalid
			return nil, false
		case cur.IsExpiredAt(now):
			s.identities.remove(cur.Identity, tokenHash)
			err = domain.ErrSessionExpired
			return nil, false
		}
		next := cur.Clone()
		next.ExpiresAt = expiresAt
		next.LastActive = now
		out = next.Clone()
		return next, true
	})
	return out, err
}

// DeleteByToken deletes a session.
func (s *Store) DeleteByToken(_ context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions.Pop(tokenHash)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	s.identities.remove(sess.Identity, tokenHash)
	return sess, nil
}

// DeleteByIdentity deletes every session of identity.
func (s *Store) DeleteByIdentity(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, h := range s.identities.hashes(identity) {
		if _, ok := s.sessions.Pop(h); ok {
			n++
		}
	}
	delete(s.identities, identity)
	return n, nil
}

// DeleteExpired removes expired sessions.
func (s *Store) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(s.opts.NowMs()), nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(_ context.Context) (int, error) {
	return s.sessions.Count(), nil
}

// Close drops all sessions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Clear()
	s.identities = make(identityIndex)
	return nil
}

func (s *Store) purgeExpiredLocked(now int64) int {
	removed := s.sessions.RemoveIf(func(_ string, v *domain.Session) bool {
		return v.IsExpiredAt(now)
	})
	for h, sess := range removed {
		s.identities.remove(sess.Identity, h)
	}
	return len(removed)
}

func (s *Store) purgeIdentityLocked(identity string, now int64) {
	for _, h := range s.identities.hashes(identity) {
		if _, ok := s.sessions.PopIf(h, func(v *domain.Session) bool {
			return v.IsExpiredAt(now)
		}); ok {
			s.identities.remove(identity, h)
		}
	}
}
