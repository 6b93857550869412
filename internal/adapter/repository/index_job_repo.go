package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type indexJobRepository struct {
	pool *pgxpool.Pool
}

// NewIndexJobRepository creates the job-queue adapter backed by the
// index_jobs table.
func NewIndexJobRepository(pool *pgxpool.Pool) domain.IndexJobRepository {
	return &indexJobRepository{pool: pool}
}

func (r *indexJobRepository) Enqueue(ctx context.Context, job *domain.IndexJob) error {
	query := `
		INSERT INTO index_jobs (id, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (r *indexJobRepository) AcquireNext(ctx context.Context) (*domain.IndexJob, error) {
	// Claim the oldest queued job and flip it to processing in one
	// statement; SKIP LOCKED keeps concurrent pollers from double-claiming.
	query := `
		WITH next_job AS (
			SELECT id
			FROM index_jobs
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE index_jobs
		SET status = 'processing', updated_at = $1
		FROM next_job
		WHERE index_jobs.id = next_job.id
		RETURNING index_jobs.id, index_jobs.status, index_jobs.error_message,
		          index_jobs.created_at, index_jobs.updated_at
	`

	var job domain.IndexJob
	err := r.pool.QueryRow(ctx, query, time.Now()).Scan(
		&job.ID,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire next job: %w", err)
	}
	return &job, nil
}

func (r *indexJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	query := `
		UPDATE index_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.pool.Exec(ctx, query, status, errorMessage, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (r *indexJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.IndexJob, error) {
	query := `
		SELECT id, status, error_message, created_at, updated_at
		FROM index_jobs
		WHERE id = $1
	`
	var job domain.IndexJob
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}
