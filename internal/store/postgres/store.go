// Package postgres implements the call repository on PostgreSQL via pgx.
//
// Atomic units map to database transactions. Inside a unit, reading a call ID
// takes a per-ID advisory transaction lock, which serialises concurrent units
// for the same call without blocking units for other calls.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callsight/callsight/internal/call"
)

var _ call.Repository = (*Store)(nil)

// Store is the PostgreSQL-backed call repository. All operations are safe
// for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure all required tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports database reachability; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier abstracts over the pool and an open transaction. Both
// *pgxpool.Pool and pgx.Tx satisfy it directly.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Get returns the call with the given ID, or [call.ErrNotFound].
func (s *Store) Get(ctx context.Context, id string) (*call.Call, error) {
	return getCall(ctx, s.pool, id)
}

// Upsert inserts or fully replaces the call record.
func (s *Store) Upsert(ctx context.Context, c *call.Call) error {
	return upsertCall(ctx, s.pool, c)
}

// AppendEvent appends one audit record.
func (s *Store) AppendEvent(ctx context.Context, ev *call.CallEvent) error {
	return appendEvent(ctx, s.pool, ev)
}

// Atomically runs fn inside a database transaction. The transactional view's
// Get takes a per-call advisory lock, so two units touching the same call ID
// run strictly one after the other.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, r call.Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// ListByTenant returns the calls for one tenant, newest first. A non-empty
// userID restricts the list to that user's calls.
func (s *Store) ListByTenant(ctx context.Context, tenantID, userID string) ([]*call.Call, error) {
	q := selectCols + ` FROM calls WHERE tenant_id = $1`
	args := []any{tenantID}
	if userID != "" {
		q += ` AND user_id = $2`
		args = append(args, userID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list calls: %w", err)
	}
	defer rows.Close()

	var out []*call.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// txRepo is the repository view handed to an atomic unit.
type txRepo struct {
	q pgx.Tx
}

var _ call.Repository = (*txRepo)(nil)

func (t *txRepo) Get(ctx context.Context, id string) (*call.Call, error) {
	// Serialise concurrent units on the same call ID for the remainder of
	// this transaction. hashtext collisions only cost extra serialisation.
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return nil, fmt.Errorf("postgres store: advisory lock: %w", err)
	}
	return getCall(ctx, t.q, id)
}

func (t *txRepo) Upsert(ctx context.Context, c *call.Call) error {
	return upsertCall(ctx, t.q, c)
}

func (t *txRepo) AppendEvent(ctx context.Context, ev *call.CallEvent) error {
	return appendEvent(ctx, t.q, ev)
}

func (t *txRepo) Atomically(ctx context.Context, fn func(ctx context.Context, r call.Repository) error) error {
	return fn(ctx, t)
}

// ── Row plumbing ──────────────────────────────────────────────────────────────

const selectCols = `SELECT id, tenant_id, user_id, username, phone_number, status,
	started_at, ended_at, duration, cost, listen_url, control_url,
	live_transcript, final_transcript, recording_ref, summary,
	sentiment, disposition, sentiment_history, created_at, updated_at`

func getCall(ctx context.Context, q querier, id string) (*call.Call, error) {
	row := q.QueryRow(ctx, selectCols+` FROM calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, call.ErrNotFound
	}
	return c, err
}

func scanCall(row pgx.Row) (*call.Call, error) {
	var (
		c       call.Call
		started *time.Time
		ended   *time.Time
		summary []byte
		history []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.UserID, &c.Username, &c.PhoneNumber, &c.Status,
		&started, &ended, &c.Duration, &c.Cost, &c.ListenURL, &c.ControlURL,
		&c.LiveTranscript, &c.FinalTranscript, &c.RecordingRef, &summary,
		&c.Sentiment, &c.Disposition, &history, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.StartedAt = started
	c.EndedAt = ended
	c.Summary = summary
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.SentimentHistory); err != nil {
			return nil, fmt.Errorf("postgres store: decode sentiment history: %w", err)
		}
	}
	return &c, nil
}

func upsertCall(ctx context.Context, q querier, c *call.Call) error {
	history, err := json.Marshal(c.SentimentHistory)
	if err != nil {
		return fmt.Errorf("postgres store: encode sentiment history: %w", err)
	}
	if c.SentimentHistory == nil {
		history = []byte(`[]`)
	}

	var summary any
	if len(c.Summary) > 0 {
		summary = []byte(c.Summary)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO calls (
			id, tenant_id, user_id, username, phone_number, status,
			started_at, ended_at, duration, cost, listen_url, control_url,
			live_transcript, final_transcript, recording_ref, summary,
			sentiment, disposition, sentiment_history, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			username = EXCLUDED.username,
			phone_number = EXCLUDED.phone_number,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration = EXCLUDED.duration,
			cost = EXCLUDED.cost,
			listen_url = EXCLUDED.listen_url,
			control_url = EXCLUDED.control_url,
			live_transcript = EXCLUDED.live_transcript,
			final_transcript = EXCLUDED.final_transcript,
			recording_ref = EXCLUDED.recording_ref,
			summary = EXCLUDED.summary,
			sentiment = EXCLUDED.sentiment,
			disposition = EXCLUDED.disposition,
			sentiment_history = EXCLUDED.sentiment_history,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.TenantID, c.UserID, c.Username, c.PhoneNumber, c.Status,
		c.StartedAt, c.EndedAt, c.Duration, c.Cost, c.ListenURL, c.ControlURL,
		c.LiveTranscript, c.FinalTranscript, c.RecordingRef, summary,
		c.Sentiment, c.Disposition, history, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: upsert call %q: %w", c.ID, err)
	}
	return nil
}

func appendEvent(ctx context.Context, q querier, ev *call.CallEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO call_events (id, call_id, tenant_id, category, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.CallID, ev.TenantID, ev.Category, ev.UserID, payload, created,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append event for call %q: %w", ev.CallID, err)
	}
	return nil
}

// DisplayName looks up one profile row for the identity resolver. It returns
// the first non-empty value of username, display name, then email.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	var username, displayName, email string
	err := s.pool.QueryRow(ctx,
		`SELECT username, display_name, email FROM profiles WHERE user_id = $1`, userID,
	).Scan(&username, &displayName, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", call.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: profile lookup: %w", err)
	}
	for _, v := range []string{username, displayName, email} {
		if v != "" {
			return v, nil
		}
	}
	return "", call.ErrNotFound
}
