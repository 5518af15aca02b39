// Package redisstore keeps sessions in Redis.
//
// Key layout, under a configurable prefix:
//
//	<prefix>s:<token_hash>  JSON session, PX TTL a little past ExpiresAt
//	<prefix>i:<identity>    set of token hashes of the identity
//	<prefix>all             set of every token hash
//
// Multi-key updates run under WATCH/MULTI and are retried on conflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
)

const (
	// ExpiryGrace is how long Redis keeps a session past its ExpiresAt.
	ExpiryGrace = time.Minute

	// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
	DefaultKeyPrefix = "tokgate:"

	maxTxRetries = 32
)

// Config holds connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis backed storage.SessionStore.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	opts   storage.Options
	logger *slog.Logger
	owned  bool
}

var _ storage.SessionStore = (*Store)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, opts storage.Options) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redisstore: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", cfg.Addr, err)
	}
	s := New(rdb, cfg.KeyPrefix, opts)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of rdb.
func New(rdb redis.UniversalClient, keyPrefix string, opts storage.Options) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	opts = opts.WithDefaults()
	return &Store{
		rdb:    rdb,
		prefix: keyPrefix,
		opts:   opts,
		logger: opts.Logger.With("component", "redisstore"),
	}
}

func (s *Store) sessionKey(hash string) string     { return s.prefix + "s:" + hash }
func (s *Store) identityKey(identity string) string { return s.prefix + "i:" + identity }
func (s *Store) allKey() string                     { return s.prefix + "all" }

func (s *Store) redisTTL(expiresAt int64) time.Duration {
	ttl := time.Duration(expiresAt-s.opts.NowMs())*time.Millisecond + ExpiryGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// watch runs fn under WATCH keys, retrying optimistic-lock failures.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// reader is the read subset shared by the client and a WATCH transaction.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func getSession(ctx context.Context, c reader, key string) (*domain.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return storage.DecodeSession(data)
}

// liveMembers splits the hashes in set into live ones and stale ones
// (missing or expired at now).
func (s *Store) liveMembers(ctx context.Context, c reader, set string, now int64) (live []string, stale []*domain.Session, missing []string, err error) {
	hashes, err := c.SMembers(ctx, set).Result()
	if err != nil || len(hashes) == 0 {
		return nil, nil, nil, err
	}
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = s.sessionKey(h)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, hashes[i])
			continue
		}
		sess, derr := storage.DecodeSession([]byte(str))
		if derr != nil {
			return nil, nil, nil, derr
		}
		if sess.IsExpiredAt(now) {
			stale = append(stale, sess)
		} else {
			live = append(live, hashes[i])
		}
	}
	return live, stale, missing, nil
}

func (s *Store) removeStale(ctx context.Context, pipe redis.Pipeliner, stale []*domain.Session, missing []string, identitySet string) {
	for _, sess := range stale {
		pipe.Del(ctx, s.sessionKey(sess.TokenHash))
		pipe.SRem(ctx, s.identityKey(sess.Identity), sess.TokenHash)
		pipe.SRem(ctx, s.allKey(), sess.TokenHash)
	}
	for _, h := range missing {
		pipe.SRem(ctx, s.allKey(), h)
		if identitySet != "" {
			pipe.SRem(ctx, identitySet, h)
		}
	}
}

// Create stores a new session.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	val, err := storage.EncodeSession(sess)
	if err != nil {
		return storage.Wrap("redis encode", err)
	}

	key := s.sessionKey(sess.TokenHash)
	identSet := s.identityKey(sess.Identity)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrSessionConflict
		}

		now := s.opts.NowMs()
		var (
			stale   []*domain.Session
			missing []string
		)
		if s.opts.MaxSessionsPerIdentity > 0 {
			live, st, ms, err := s.liveMembers(ctx, tx, identSet, now)
			if err != nil {
				return err
			}
			if s.opts.AtQuota(len(live)) {
				return storage.QuotaError(sess.Identity, s.opts.MaxSessionsPerIdentity)
			}
			stale, missing = append(stale, st...), append(missing, ms...)
		}
		if s.opts.MaxSessions > 0 {
			total, err := tx.SCard(ctx, s.allKey()).Result()
			if err != nil {
				return err
			}
			if s.opts.AtCapacity(int(total)) {
				live, st, ms, err := s.liveMembers(ctx, tx, s.allKey(), now)
				if err != nil {
					return err
				}
				if s.opts.AtCapacity(len(live)) {
					return storage.CapacityError(s.opts.MaxSessions)
				}
				stale, missing = append(stale, st...), append(missing, ms...)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeStale(ctx, pipe, stale, missing, identSet)
			pipe.Set(ctx, key, val, s.redisTTL(sess.ExpiresAt))
			pipe.SAdd(ctx, identSet, sess.TokenHash)
			pipe.SAdd(ctx, s.allKey(), sess.TokenHash)
			return nil
		})
		return err
	}, key, identSet, s.allKey())
	return storage.Wrap("redis create", err)
}

// GetByToken returns the live session for a token hash.
func (s *Store) GetByToken(ctx context.Context, tokenHash string) (*domain.Session, error) {
	key := s.sessionKey(tokenHash)
	sess, err := getSession(ctx, s.rdb, key)
	if err != nil {
		return nil, storage.Wrap("redis get", err)
	}
	if !sess.IsExpiredAt(s.opts.NowMs()) {
		return sess, nil
	}

	var (
		out     *domain.Session
		expired bool
	)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := getSession(ctx, tx, key)
		if err != nil {
			return err
		}
		if !cur.IsExpiredAt(s.opts.NowMs()) {
			out = cur
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeStale(ctx, pipe, []*domain.Session{cur}, nil, "")
			return nil
		})
		expired = err == nil
		return err
	}, key)
	if err != nil {
		return nil, storage.Wrap("redis expire", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return out, nil
}

// Renew moves the expiry of a live session.
func (s *Store) Renew(ctx context.Context, tokenHash string, expiresAt int64) (*domain.Session, error) {
	key := s.sessionKey(tokenHash)
	var (
		out     *domain.Session
		expired bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		out, expired = nil, false
		cur, err := getSession(ctx, tx, key)
		if err != nil {
			return err
		}
		now := s.opts.NowMs()
		if cur.IsExpiredAt(now) {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.removeStale(ctx, pipe, []*domain.Session{cur}, nil, "")
				return nil
			})
			expired = err == nil
			return err
		}
		cur.ExpiresAt = expiresAt
		cur.LastActive = now
		val, err := storage.EncodeSession(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, s.redisTTL(expiresAt))
			return nil
		})
		if err == nil {
			out = cur
		}
		return err
	}, key)
	if err != nil {
		return nil, storage.Wrap("redis renew", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return out, nil
}

// DeleteByToken deletes a session.
func (s *Store) DeleteByToken(ctx context.Context, tokenHash string) (*domain.Session, error) {
	key := s.sessionKey(tokenHash)
	var out *domain.Session
	err := s.watch(ctx, func(tx *redis.Tx) error {
		cur, err := getSession(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeStale(ctx, pipe, []*domain.Session{cur}, nil, "")
			return nil
		})
		out = cur
		return err
	}, key)
	if err != nil {
		return nil, storage.Wrap("redis delete", err)
	}
	return out, nil
}

// DeleteByIdentity deletes every session of identity.
func (s *Store) DeleteByIdentity(ctx context.Context, identity string) (int, error) {
	identSet := s.identityKey(identity)
	var n int
	err := s.watch(ctx, func(tx *redis.Tx) error {
		hashes, err := tx.SMembers(ctx, identSet).Result()
		if err != nil {
			return err
		}
		if len(hashes) == 0 {
			n = 0
			return nil
		}
		keys := make([]string, len(hashes))
		members := make([]any, len(hashes))
		for i, h := range hashes {
			keys[i] = s.sessionKey(h)
			members[i] = h
		}
		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, keys...)
			pipe.Del(ctx, identSet)
			pipe.SRem(ctx, s.allKey(), members...)
			return nil
		})
		if err != nil {
			return err
		}
		n = int(del.Val())
		return nil
	}, identSet)
	if err != nil {
		return 0, storage.Wrap("redis delete identity", err)
	}
	return n, nil
}

// DeleteExpired removes expired sessions and prunes set members whose keys
// Redis already evicted.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	_, stale, missing, err := s.liveMembers(ctx, s.rdb, s.allKey(), s.opts.NowMs())
	if err != nil {
		return 0, storage.Wrap("redis scan expired", err)
	}
	if len(stale) == 0 && len(missing) == 0 {
		return 0, nil
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.removeStale(ctx, pipe, stale, missing, "")
		return nil
	})
	if err != nil {
		return 0, storage.Wrap("redis sweep", err)
	}
	return len(stale), nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, s.allKey()).Result()
	return int(n), storage.Wrap("redis count", err)
}

// Close closes the client when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}
