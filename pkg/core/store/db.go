package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the dataset cache table.
const Schema = `
CREATE TABLE IF NOT EXISTS dataset_cache (
	ticker     TEXT PRIMARY KEY,
	snapshot   JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Connect opens a connection pool for databaseURL and makes sure the cache table exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return pool, nil
}
