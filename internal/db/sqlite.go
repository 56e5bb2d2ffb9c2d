// Package db opens the SQLite file backing the user and refresh-token
// tables.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT NOT NULL UNIQUE,
	subscriber_id TEXT NOT NULL UNIQUE,
	encoded_hash  TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tokens (
	subscriber_id TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	expires       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tokens_lookup ON tokens (refresh_token, client_id);
`

// Open connects to the SQLite file (created if missing), applies
// pragmas suited for a single-writer service, and ensures the schema.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	pool, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// modernc/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	pool.SetMaxOpenConns(1)
	pool.SetConnMaxLifetime(time.Hour)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.ExecContext(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Str("db_file_path", path).Msg("sqlite database ready")
	return pool, nil
}
