// Package sqlstore persists sessions in SQLite through database/sql.
//
// The pool is limited to one connection, so every transaction runs alone and
// the capacity and quota checks in Create cannot race with another writer.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yndnr/tokgate/internal/core/domain"
	"github.com/yndnr/tokgate/internal/storage"

	_ "modernc.org/sqlite"
)

// Store is a SQLite backed storage.SessionStore.
type Store struct {
	db     *sql.DB
	opts   storage.Options
	logger *slog.Logger
}

var _ storage.SessionStore = (*Store)(nil)

// Open opens (or creates) a SQLite database at path and migrates it.
// Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string, opts storage.Options) (*Store, error) {
	opts = opts.WithDefaults()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		db:     db,
		opts:   opts,
		logger: opts.Logger.With("component", "sqlstore"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const selectColumns = `token_hash, id, identity, remote_addr, created_at, expires_at, last_active`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var sess domain.Session
	err := row.Scan(&sess.TokenHash, &sess.ID, &sess.Identity, &sess.RemoteAddr,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func getSession(ctx context.Context, tx *sql.Tx, hash string) (*domain.Session, error) {
	return scanSession(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM sessions WHERE token_hash = ?`, hash))
}

func countWhere(ctx context.Context, tx *sql.Tx, where string, args ...any) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions `+where, args...).Scan(&n)
	return n, err
}

// Create stores a new session.
func (s *Store) Create(ctx context.Context, sess *domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.logger.Debug("sql", "op", "insert", "table", "sessions", "id", sess.ID)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getSession(ctx, tx, sess.TokenHash); err == nil {
			return domain.ErrSessionConflict
		} else if !errors.Is(err, domain.ErrTokenInvalid) {
			return err
		}

		now := s.opts.NowMs()
		if s.opts.MaxSessionsPerIdentity > 0 {
			n, err := countWhere(ctx, tx, `WHERE identity = ? AND expires_at >= ?`, sess.Identity, now)
			if err != nil {
				return err
			}
			if s.opts.AtQuota(n) {
				return storage.QuotaError(sess.Identity, s.opts.MaxSessionsPerIdentity)
			}
		}
		if s.opts.MaxSessions > 0 {
			n, err := countWhere(ctx, tx, ``)
			if err != nil {
				return err
			}
			if s.opts.AtCapacity(n) {
				if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now); err != nil {
					return err
				}
				if n, err = countWhere(ctx, tx, ``); err != nil {
					return err
				}
				if s.opts.AtCapacity(n) {
					return storage.CapacityError(s.opts.MaxSessions)
				}
			}
		}
		if s.opts.MaxSessionsPerIdentity > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM sessions WHERE identity = ? AND expires_at < ?`, sess.Identity, now); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.TokenHash, sess.ID, sess.Identity, sess.RemoteAddr,
			sess.CreatedAt, sess.ExpiresAt, sess.LastActive)
		return err
	})
	return storage.Wrap("sqlite create", err)
}

// GetByToken returns the live session for a token hash.
func (s *Store) GetByToken(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var (
		out     *domain.Session
		expired bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, tokenHash)
		if err != nil {
			return err
		}
		if !sess.IsExpiredAt(s.opts.NowMs()) {
			out = sess
			return nil
		}
		expired = true
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("sqlite get", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return out, nil
}

// Renew moves the expiry of a live session.
func (s *Store) Renew(ctx context.Context, tokenHash string, expiresAt int64) (*domain.Session, error) {
	var (
		out     *domain.Session
		expired bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, tokenHash)
		if err != nil {
			return err
		}
		now := s.opts.NowMs()
		if sess.IsExpiredAt(now) {
			expired = true
			_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
			return err
		}
		sess.ExpiresAt = expiresAt
		sess.LastActive = now
		out = sess
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET expires_at = ?, last_active = ? WHERE token_hash = ?`,
			expiresAt, now, tokenHash)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("sqlite renew", err)
	}
	if expired {
		return nil, domain.ErrSessionExpired
	}
	return out, nil
}

// DeleteByToken deletes a session.
func (s *Store) DeleteByToken(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var out *domain.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := getSession(ctx, tx, tokenHash)
		if err != nil {
			return err
		}
		out = sess
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
		return err
	})
	if err != nil {
		return nil, storage.Wrap("sqlite delete", err)
	}
	return out, nil
}

// DeleteByIdentity deletes every session of identity.
func (s *Store) DeleteByIdentity(ctx context.Context, identity string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity = ?`, identity)
	if err != nil {
		return 0, storage.Wrap("sqlite delete identity", err)
	}
	n, err := res.RowsAffected()
	return int(n), storage.Wrap("sqlite delete identity", err)
}

// DeleteExpired removes expired sessions.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, s.opts.NowMs())
	if err != nil {
		return 0, storage.Wrap("sqlite sweep", err)
	}
	n, err := res.RowsAffected()
	return int(n), storage.Wrap("sqlite sweep", err)
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, storage.Wrap("sqlite count", err)
}
