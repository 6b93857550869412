package usecase_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/stretchr/testify/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// MockWorkRepository
type MockWorkRepository struct {
	mock.Mock
}

func (m *MockWorkRepository) CountEligible(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// ScanBatches feeds fn the batches configured via Return. Returning
// [][]domain.Work as the first value drives the callback; the second value
// is the scan error.
func (m *MockWorkRepository) ScanBatches(ctx context.Context, batchSize int, fn func(ctx context.Context, works []domain.Work) error) error {
	args := m.Called(ctx, batchSize, fn)
	if batches, ok := args.Get(0).([][]domain.Work); ok {
		for _, b := range batches {
			if err := fn(ctx, b); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}

func (m *MockWorkRepository) LookupByPaths(ctx context.Context, paths []string) (map[string]domain.Work, error) {
	args := m.Called(ctx, paths)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.Work), args.Error(1)
}

// MockEmbeddingRepository
type MockEmbeddingRepository struct {
	mock.Mock
}

func (m *MockEmbeddingRepository) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEmbeddingRepository) UpsertBatch(ctx context.Context, records []domain.EmbeddingRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockEmbeddingRepository) TopKByCosineDistance(ctx context.Context, query []float32, k int) ([]domain.Neighbor, error) {
	args := m.Called(ctx, query, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Neighbor), args.Error(1)
}

func (m *MockEmbeddingRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockEmbeddingRepository) RemoveDuplicates(ctx context.Context, tolerance int) (int, int, error) {
	args := m.Called(ctx, tolerance)
	return args.Int(0), args.Int(1), args.Error(2)
}

// MockVectorEncoder
type MockVectorEncoder struct {
	mock.Mock
}

func (m *MockVectorEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockVectorEncoder) Dimension() int {
	return 4
}

func (m *MockVectorEncoder) Version() string {
	return "mock-encoder-v1"
}

// MockCrossScorer
type MockCrossScorer struct {
	mock.Mock
}

func (m *MockCrossScorer) ScorePairs(ctx context.Context, pairs []domain.TextPair) ([]float32, error) {
	args := m.Called(ctx, pairs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockCrossScorer) ModelName() string {
	return "mock-scorer-v1"
}

// fakeTxManager runs the function directly, without a database.
type fakeTxManager struct{}

func (f *fakeTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
