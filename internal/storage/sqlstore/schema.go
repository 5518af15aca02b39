package sqlstore

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		token_hash  TEXT PRIMARY KEY,
		id          TEXT NOT NULL,
		identity    TEXT NOT NULL,
		remote_addr TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(identity)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
