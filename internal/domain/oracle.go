package domain

import "context"

// VectorEncoder is the coarse half of the inference oracle: it maps each text
// to a fixed-width embedding. Results are positional: out[i] is the vector
// for texts[i]. Implementations may split the input into smaller batches
// internally, but every vector must be a pure function of its own text, so
// batch boundaries never change the result.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the width of the vectors Encode produces.
	Dimension() int

	// Version returns the model identifier for logging/debugging.
	Version() string
}

// TextPair is one (query, document) input to the cross-encoder.
type TextPair struct {
	Query string
	Text  string
}

// CrossScorer is the fine half of the inference oracle. ScorePairs returns
// one relevance score per pair, in input order; higher means more relevant.
// The same internal-batching purity rule as VectorEncoder applies.
type CrossScorer interface {
	ScorePairs(ctx context.Context, pairs []TextPair) ([]float32, error)

	// ModelName returns the model identifier for logging/debugging.
	ModelName() string
}
