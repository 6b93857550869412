package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureJobSchema creates the index_jobs queue table if absent.
func EnsureJobSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS index_jobs (
			id            UUID PRIMARY KEY,
			status        TEXT NOT NULL,
			error_message TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure job schema: %w", err)
	}
	return nil
}
