package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"
)

// ExpiryGrace is how long Badger keeps a session past its ExpiresAt.
const ExpiryGrace = time.Minute

var (
	sessionPrefix  = []byte("s\x00")
	identityPrefix = []byte("i\x00")
)

// Config holds Badger settings.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in RAM (tests).
	InMemory bool

	SyncWrites bool

	// GCInterval is the value log GC period. 0 uses 10m.
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC. 0 uses 0.5.
	GCThreshold float64
}

// Store is a Badger backed storage.SessionStore.
type Store struct {
	db     *badger.DB
	cfg    Config
	opts   storage.Options
	logger *slog.Logger

	// mu serializes mutations so capacity and quota checks see a stable view.
	mu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	// Collectors registered by RegisterMetrics, removed again on Close.
	reg        prometheus.Registerer
	collectors []prometheus.Collector
}

var _ storage.SessionStore = (*Store)(nil)

// Open opens (or creates) the database.
func Open(cfg Config, opts storage.Options) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badgerstore: dir is required")
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	if cfg.GCThreshold <= 0 {
		cfg.GCThreshold = 0.5
	}
	opts = opts.WithDefaults()
	logger := opts.Logger.With("component", "badgerstore")

	bopts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(&badgerLogger{logger: logger})
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open db: %w", err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if cfg.InMemory {
		close(s.doneCh)
	} else {
		go s.gcLoop()
	}

	logger.Info("badger store opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return s, nil
}

func sessionKey(hash string) []byte {
	return append(append([]byte{}, sessionPrefix...), hash...)
}

func identityKeyPrefix(identity string) []byte {
	k := append(append([]byte{}, identityPrefix...), identity...)
	return append(k, 0)
}

func identityKey(identity, hash string) []byte {
	return append(identityKeyPrefix(identity), hash...)
}

// badgerTTL converts an absolute expiry into the relative TTL Badger wants.
func (s *Store) badgerTTL(expiresAt int64) time.Duration {
	ttl := time.Duration(expiresAt-s.opts.NowMs())*time.Millisecond + ExpiryGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func getSession(txn *badger.Txn, hash string) (*domain.Session, error) {
	item, err := txn.Get(sessionKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	var sess *domain.Session
	err = item.Value(func(val []byte) error {
		var derr error
		sess, derr = storage.DecodeSession(val)
		return derr
	})
	return sess, err
}

func (s *Store) putSession(txn *badger.Txn, sess *domain.Session) error {
	val, err := storage.EncodeSession(sess)
	if err != nil {
		return err
	}
	ttl := s.badgerTTL(sess.ExpiresAt)
	if err := txn.SetEntry(badger.NewEntry(sessionKey(sess.TokenHash), val).WithTTL(ttl)); err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(identityKey(sess.Identity, sess.TokenHash), nil).WithTTL(ttl))
}

func deleteSession(txn *badger.Txn, sess *domain.Session) error {
	if err := txn.Delete(sessionKey(sess.TokenHash)); err != nil {
		return err
	}
	return txn.Delete(identityKey(sess.Identity, sess.TokenHash))
}

// Create stores a new session.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.NowMs()
	if s.opts.MaxSessionsPerIdentity > 0 {
		if err := s.reclaimIfFull(ctx, now, func() (int, error) {
			return s.countIdentity(sess.Identity)
		}, s.opts.AtQuota, storage.QuotaError(sess.Identity, s.opts.MaxSessionsPerIdentity)); err != nil {
			return err
		}
	}
	if s.opts.MaxSessions > 0 {
		if err := s.reclaimIfFull(ctx, now, s.countSessions, s.opts.AtCapacity,
			storage.CapacityError(s.opts.MaxSessions)); err != nil {
			return err
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sess.TokenHash)); err == nil {
			return domain.ErrSessionConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return s.putSession(txn, sess)
	})
	return storage.Wrap("badger create", err)
}

// reclaimIfFull returns full when count() is at the limit even after
// removing expired sessions.
func (s *Store) reclaimIfFull(ctx context.Context, now int64, count func() (int, error), atLimit func(int) bool, full error) error {
	n, err := count()
	if err != nil {
		return storage.Wrap("badger count", err)
	}
	if !atLimit(n) {
		return nil
	}
	if _, err := s.deleteExpiredLocked(ctx, now); err != nil {
		return err
	}
	if n, err = count(); err != nil {
		return storage.Wrap("badger count", err)
	}
	if atLimit(n) {
		return full
	}
	return nil
}

// GetByToken returns the live session for a token hash.
func (s *Store) GetByToken(_ context.Context, tokenHash string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sess, err = getSession(txn, tokenHash)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("badger get", err)
	}
	if !sess.IsExpiredAt(s.opts.NowMs()) {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	expired := false
	err = s.db.Update(func(txn *badger.Txn) error {
		cur, err := getSession(txn, tokenHash)
		if err != nil {
			return err
		}
		if !cur.IsExpiredAt(s.opts.NowMs()) {
			sess = cur
			return nil
		}
		expired = true
		return deleteSession(txn, cur)
	})
	if err != nil {
		return nil, storage.Wrap("badger expire", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return sess, nil
}

// Renew moves the expiry of a live session.
func (s *Store) Renew(_ context.Context, tokenHash string, expiresAt int64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *domain.Session
	var expired bool
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getSession(txn, tokenHash)
		if err != nil {
			return err
		}
		now := s.opts.NowMs()
		if cur.IsExpiredAt(now) {
			expired = true
			return deleteSession(txn, cur)
		}
		cur.ExpiresAt = expiresAt
		cur.LastActive = now
		out = cur
		return s.putSession(txn, cur)
	})
	if err != nil {
		return nil, storage.Wrap("badger renew", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return out, nil
}

// DeleteByToken deletes a session.
func (s *Store) DeleteByToken(_ context.Context, tokenHash string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess *domain.Session
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if sess, err = getSession(txn, tokenHash); err != nil {
			return err
		}
		return deleteSession(txn, sess)
	})
	if err != nil {
		return nil, storage.Wrap("badger delete", err)
	}
	return sess, nil
}

// DeleteByIdentity deletes every session of identity.
func (s *Store) DeleteByIdentity(_ context.Context, identity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := identityKeyPrefix(identity)
	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			hashes = append(hashes, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap("badger scan identity", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, h := range hashes {
		if err := wb.Delete(sessionKey(h)); err != nil {
			return 0, storage.Wrap("badger delete identity", err)
		}
		if err := wb.Delete(identityKey(identity, h)); err != nil {
			return 0, storage.Wrap("badger delete identity", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, storage.Wrap("badger delete identity", err)
	}
	return len(hashes), nil
}

// DeleteExpired removes expired sessions.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredLocked(ctx, s.opts.NowMs())
}

func (s *Store) deleteExpiredLocked(ctx context.Context, now int64) (int, error) {
	var expired []*domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: sessionPrefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				sess, err := storage.DecodeSession(val)
				if err != nil {
					return err
				}
				if sess.IsExpiredAt(now) {
					expired = append(expired, sess)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storage.Wrap("badger scan expired", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, sess := range expired {
		if err := wb.Delete(sessionKey(sess.TokenHash)); err != nil {
			return 0, storage.Wrap("badger sweep", err)
		}
		if err := wb.Delete(identityKey(sess.Identity, sess.TokenHash)); err != nil {
			return 0, storage.Wrap("badger sweep", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, storage.Wrap("badger sweep", err)
	}
	return len(expired), nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(_ context.Context) (int, error) {
	n, err := s.countSessions()
	return n, storage.Wrap("badger count", err)
}

func (s *Store) countSessions() (int, error) {
	return s.countPrefix(sessionPrefix)
}

func (s *Store) countIdentity(identity string) (int, error) {
	return s.countPrefix(identityKeyPrefix(identity))
}

func (s *Store) countPrefix(prefix []byte) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops the GC loop and closes the database. Safe to call twice.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		for _, c := range s.collectors {
			s.reg.Unregister(c)
		}
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("badgerstore: close db: %w", cerr)
		}
		s.logger.Info("badger store closed")
	})
	return err
}

// RegisterMetrics exposes Badger size gauges on reg until Close.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	lsm := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tokgate",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes.",
	}, func() float64 {
		l, _ := s.db.Size()
		return float64(l)
	})
	vlog := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tokgate",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes.",
	}, func() float64 {
		_, v := s.db.Size()
		return float64(v)
	})
	s.reg = reg
	for _, c := range []prometheus.Collector{lsm, vlog} {
		if err := reg.Register(c); err != nil {
			return err
		}
		s.collectors = append(s.collectors, c)
	}
	return nil
}

func (s *Store) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(s.cfg.GCThreshold); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Warn("value log gc failed", "error", err)
					}
					break
				}
			}
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
