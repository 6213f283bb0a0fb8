package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order on startup. Statements must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		user_id          TEXT NOT NULL DEFAULT '',
		username         TEXT NOT NULL DEFAULT '',
		phone_number     TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT '',
		started_at       TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ,
		duration         INTEGER NOT NULL DEFAULT 0,
		cost             DOUBLE PRECISION NOT NULL DEFAULT 0,
		listen_url       TEXT NOT NULL DEFAULT '',
		control_url      TEXT NOT NULL DEFAULT '',
		live_transcript  TEXT NOT NULL DEFAULT '',
		final_transcript TEXT NOT NULL DEFAULT '',
		recording_ref    TEXT NOT NULL DEFAULT '',
		summary          JSONB,
		sentiment        TEXT NOT NULL DEFAULT '',
		disposition      TEXT NOT NULL DEFAULT '',
		sentiment_history JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_tenant ON calls (tenant_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS call_events (
		id         UUID PRIMARY KEY,
		call_id    TEXT NOT NULL,
		tenant_id  TEXT NOT NULL,
		category   TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		payload    JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events (call_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id      TEXT PRIMARY KEY,
		username     TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		email        TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate ensures all required tables and indexes exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
