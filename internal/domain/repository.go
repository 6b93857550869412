package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmbeddingRecord pairs a work path with its bi-encoder vector.
type EmbeddingRecord struct {
	Path      string
	Embedding []float32
}

// Neighbor is a single hit of a top-K retrieval. Distance is the cosine
// distance (1 - cosine similarity) between the query vector and the stored
// embedding; results are ordered by ascending distance.
type Neighbor struct {
	Path     string
	Distance float32
}

// WorkRepository is the metadata store. It is read-only from the point of
// view of this service; the scraper that populates it is a separate system.
type WorkRepository interface {
	// CountEligible returns how many works the indexing pipeline will scan.
	CountEligible(ctx context.Context) (int, error)

	// ScanBatches streams every eligible work in batches of batchSize, in a
	// stable scan order. fn is called once per batch; returning an error
	// stops the scan. The scan is restartable from the beginning only.
	ScanBatches(ctx context.Context, batchSize int, fn func(ctx context.Context, works []Work) error) error

	// LookupByPaths fetches works by identifier. Paths with no metadata row
	// are simply absent from the result map.
	LookupByPaths(ctx context.Context, paths []string) (map[string]Work, error)
}

// EmbeddingRepository is the embedding store: a persistent map from work
// path to a fixed-width vector, queryable by cosine distance.
type EmbeddingRepository interface {
	// EnsureSchema creates the embeddings table and its indexes if absent.
	EnsureSchema(ctx context.Context) error

	// UpsertBatch replaces any existing record for each path. Individual
	// records are replaced atomically; a torn vector is never visible.
	UpsertBatch(ctx context.Context, records []EmbeddingRecord) error

	// TopKByCosineDistance returns up to k neighbors ordered by ascending
	// cosine distance. Returns a DimensionError if the query width does not
	// match the stored vector width.
	TopKByCosineDistance(ctx context.Context, query []float32, k int) ([]Neighbor, error)

	// Count returns the number of distinct paths currently stored.
	Count(ctx context.Context) (int, error)

	// RemoveDuplicates keeps, for each non-null story URL, only the most
	// recently packaged embedding and deletes the rest. It is transactional:
	// if the remaining count ends up more than tolerance away from the
	// number of distinct story URLs, everything is rolled back and a
	// ReconciliationError is returned. Re-running after convergence is a
	// no-op.
	RemoveDuplicates(ctx context.Context, tolerance int) (expected, remaining int, err error)
}

// Index job statuses.
const (
	JobStatusNew        = "new"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IndexJob is a queued request to run the offline indexing pipeline.
type IndexJob struct {
	ID           uuid.UUID
	Status       string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IndexJobRepository is the persistent queue the background worker polls.
type IndexJobRepository interface {
	Enqueue(ctx context.Context, job *IndexJob) error

	// AcquireNext atomically claims the oldest queued job, or returns
	// nil, nil when the queue is empty.
	AcquireNext(ctx context.Context) (*IndexJob, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error

	// GetByID returns nil, nil if the job does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*IndexJob, error)
}

// TransactionManager defines the interface for handling database transactions.
type TransactionManager interface {
	// RunInTx executes the given function within a transaction. A non-nil
	// error from fn rolls the transaction back and is returned unchanged.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
