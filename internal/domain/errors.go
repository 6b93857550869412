package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent pipeline failures the caller can act on.
// Infrastructure errors are wrapped, not replaced.
var (
	// ErrEmptyQuery indicates the search query was empty. Rejected before
	// any external call is made.
	ErrEmptyQuery = errors.New("empty query")

	// ErrOrphanedEmbedding indicates an embedding whose path has no metadata
	// row. Per-candidate: the candidate is logged and dropped, the query
	// still succeeds.
	ErrOrphanedEmbedding = errors.New("orphaned embedding")
)

// DimensionError indicates an embedding-width mismatch between a vector and
// the store. This is configuration drift, not a transient failure; it is
// never retried.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// ReconciliationError indicates the post-deduplication count check failed and
// the transaction was rolled back. The store is unchanged.
type ReconciliationError struct {
	Expected  int
	Remaining int
	Tolerance int
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("deduplication count mismatch: expected %d works within ±%d, found %d; rolled back",
		e.Expected, e.Tolerance, e.Remaining)
}

// Oracle stages, for OracleError.
const (
	OracleStageEmbed  = "embed"
	OracleStageRerank = "rerank"
)

// OracleError wraps a failed call to the inference oracle with the stage it
// happened in. A failed stage fails the whole query: a partial ranking is
// meaningless without both stages.
type OracleError struct {
	Stage string
	Err   error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s failed: %v", e.Stage, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}
