package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call records in PostgreSQL, grounded on
// internal/memory/postgres.go's pgxpool.Pool use, schema bootstrap and
// parameterized INSERT pattern. Turns are stored as a single JSON column
// rather than one row per turn: a call's transcript is always read back
// whole (there is no RecentContext-style partial-window query here), so
// internal/memory's per-message row design doesn't carry its benefit
// across.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `CREATE TABLE IF NOT EXISTS call_records (
		call_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		language TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL,
		end_state TEXT NOT NULL,
		outcome TEXT NOT NULL,
		turns JSONB NOT NULL
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCall(ctx context.Context, record CallRecord) error {
	turnsJSON, err := json.Marshal(record.Turns)
	if err != nil {
		return fmt.Errorf("store: marshal turns: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_records (call_id, tenant_id, provider, language, started_at, ended_at, end_state, outcome, turns)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id) DO UPDATE SET
		   ended_at = EXCLUDED.ended_at, end_state = EXCLUDED.end_state,
		   outcome = EXCLUDED.outcome, turns = EXCLUDED.turns`,
		string(record.CallID),
		string(record.TenantID),
		string(record.Provider),
		record.Language,
		record.StartedAt,
		record.EndedAt,
		string(record.EndState),
		record.Outcome,
		turnsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: save call: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
