package logger

import (
	"context"
)

type ContextKey string

const (
	// Business context keys, following OpenTelemetry semantic conventions
	// with an 'ao3.' prefix. TraceContextHandler copies them onto every
	// record logged with the matching context.
	JobIDKey    ContextKey = "ao3.job.id"
	WorkPathKey ContextKey = "ao3.work.path"
	SearchIDKey ContextKey = "ao3.search.id"
	StageKey    ContextKey = "ao3.pipeline.stage"
)

var businessKeys = []ContextKey{JobIDKey, WorkPathKey, SearchIDKey, StageKey}

// WithJobID adds the index-job ID to context for observability.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithWorkPath adds the work path to context for observability.
func WithWorkPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, WorkPathKey, path)
}

// WithSearchID adds the per-request search ID to context for observability.
func WithSearchID(ctx context.Context, searchID string) context.Context {
	return context.WithValue(ctx, SearchIDKey, searchID)
}

// WithStage adds the pipeline stage to context for observability.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}
