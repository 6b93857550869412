package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type embeddingRepository struct {
	pool *pgxpool.Pool
	dim  int
}

// NewEmbeddingRepository creates the embedding-store adapter. dimension is
// the vector width fixed at store creation; every upsert and query is
// validated against it.
func NewEmbeddingRepository(pool *pgxpool.Pool, dimension int) domain.EmbeddingRepository {
	return &embeddingRepository{pool: pool, dim: dimension}
}

type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *embeddingRepository) getExecutor(ctx context.Context) dbExecutor {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *embeddingRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS work_embeddings (
			path      TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, r.dim),
		`CREATE INDEX IF NOT EXISTS idx_work_embeddings_cosine
			ON work_embeddings USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_works_language ON works (language)`,
		`CREATE INDEX IF NOT EXISTS idx_works_story_url ON works (story_url)`,
	}
	for _, stmt := range statements {
		if _, err := r.getExecutor(ctx).Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

func (r *embeddingRepository) UpsertBatch(ctx context.Context, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	for _, rec := range records {
		if len(rec.Embedding) != r.dim {
			return &domain.DimensionError{Want: r.dim, Got: len(rec.Embedding)}
		}
	}

	// One single-row upsert per record: each replace is atomic on its own,
	// so a concurrent reader never observes a torn vector.
	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO work_embeddings (path, embedding)
			VALUES ($1, $2)
			ON CONFLICT (path) DO UPDATE SET embedding = EXCLUDED.embedding
		`, rec.Path, pgvector.NewVector(rec.Embedding))
	}

	results := r.getExecutor(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert embedding: %w", err)
		}
	}
	return nil
}

func (r *embeddingRepository) TopKByCosineDistance(ctx context.Context, query []float32, k int) ([]domain.Neighbor, error) {
	if len(query) != r.dim {
		return nil, &domain.DimensionError{Want: r.dim, Got: len(query)}
	}
	if k <= 0 {
		return []domain.Neighbor{}, nil
	}

	// pgvector's <=> operator is cosine distance (1 - cosine similarity).
	// The HNSW index only kicks in for a bare ORDER BY on the operator, so
	// the path tie-break happens client side in orderNeighbors.
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT path, embedding <=> $1 AS distance
		FROM work_embeddings
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	neighbors := make([]domain.Neighbor, 0, k)
	for rows.Next() {
		var (
			path     string
			distance float64
		)
		if err := rows.Scan(&path, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan neighbor: %w", err)
		}
		neighbors = append(neighbors, domain.Neighbor{Path: path, Distance: float32(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	orderNeighbors(neighbors)
	return neighbors, nil
}

// orderNeighbors sorts by ascending distance with a path tie-break, so two
// identical queries always return candidates in the same order regardless of
// how the index walked the graph.
func orderNeighbors(neighbors []domain.Neighbor) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Path < neighbors[j].Path
	})
}

func (r *embeddingRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.getExecutor(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM work_embeddings`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return count, nil
}

func (r *embeddingRepository) RemoveDuplicates(ctx context.Context, tolerance int) (int, int, error) {
	// Expected survivor count: one embedding per distinct non-null story URL.
	// Works with a null story URL are never deduplicated and account for the
	// tolerance window below.
	var expected int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT w.story_url)
		FROM work_embeddings AS e
		JOIN works AS w ON e.path = w.path
		WHERE w.story_url IS NOT NULL
	`).Scan(&expected)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count story URL groups: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Rank each embedding within its story-URL group by packaged date,
	// newest first; everything past rank 1 is a stale re-scrape.
	_, err = tx.Exec(ctx, `
		WITH ranked AS (
			SELECT e.path,
			       ROW_NUMBER() OVER (
			           PARTITION BY w.story_url
			           ORDER BY w.packaged DESC, e.path ASC
			       ) AS rn
			FROM work_embeddings AS e
			JOIN works AS w ON e.path = w.path
			WHERE w.story_url IS NOT NULL
		)
		DELETE FROM work_embeddings
		WHERE path IN (SELECT path FROM ranked WHERE rn > 1)
	`)
	if err != nil {
		return expected, 0, fmt.Errorf("failed to delete duplicate embeddings: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM work_embeddings`).Scan(&remaining); err != nil {
		return expected, 0, fmt.Errorf("failed to count remaining embeddings: %w", err)
	}

	if remaining < expected-tolerance || remaining > expected+tolerance {
		// The deferred rollback leaves the store exactly as it was.
		return expected, remaining, &domain.ReconciliationError{
			Expected:  expected,
			Remaining: remaining,
			Tolerance: tolerance,
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return expected, remaining, fmt.Errorf("failed to commit deduplication: %w", err)
	}
	return expected, remaining, nil
}
