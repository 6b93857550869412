package usecase_test

// Scenario tests running the real indexing and search usecases against
// in-memory stores that mirror the Postgres adapters' contracts: dimension
// checks, brute-force cosine retrieval, and transactional deduplication.

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memDim = 4

// memWorkStore holds work metadata in memory with the same eligibility and
// ordering rules as the SQL adapter: English works only, scanned in path
// order.
type memWorkStore struct {
	works map[string]domain.Work
}

func newMemWorkStore(works ...domain.Work) *memWorkStore {
	m := &memWorkStore{works: make(map[string]domain.Work)}
	for _, w := range works {
		m.works[w.Path] = w
	}
	return m
}

func (m *memWorkStore) eligiblePaths() []string {
	paths := make([]string, 0, len(m.works))
	for path, w := range m.works {
		if w.Language == "English" {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (m *memWorkStore) CountEligible(ctx context.Context) (int, error) {
	return len(m.eligiblePaths()), nil
}

func (m *memWorkStore) ScanBatches(ctx context.Context, batchSize int, fn func(ctx context.Context, works []domain.Work) error) error {
	paths := m.eligiblePaths()
	for lo := 0; lo < len(paths); lo += batchSize {
		hi := lo + batchSize
		if hi > len(paths) {
			hi = len(paths)
		}
		batch := make([]domain.Work, 0, hi-lo)
		for _, path := range paths[lo:hi] {
			batch = append(batch, m.works[path])
		}
		if err := fn(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *memWorkStore) LookupByPaths(ctx context.Context, paths []string) (map[string]domain.Work, error) {
	out := make(map[string]domain.Work, len(paths))
	for _, path := range paths {
		if w, ok := m.works[path]; ok {
			out[path] = w
		}
	}
	return out, nil
}

// memEmbeddingStore is a brute-force stand-in for the pgvector adapter. It
// consults the work store during deduplication the way the SQL join does.
type memEmbeddingStore struct {
	dim       int
	vectors   map[string][]float32
	workStore *memWorkStore
}

func newMemEmbeddingStore(dim int, workStore *memWorkStore) *memEmbeddingStore {
	return &memEmbeddingStore{
		dim:       dim,
		vectors:   make(map[string][]float32),
		workStore: workStore,
	}
}

func (m *memEmbeddingStore) EnsureSchema(ctx context.Context) error { return nil }

func (m *memEmbeddingStore) UpsertBatch(ctx context.Context, records []domain.EmbeddingRecord) error {
	for _, rec := range records {
		if len(rec.Embedding) != m.dim {
			return &domain.DimensionError{Want: m.dim, Got: len(rec.Embedding)}
		}
	}
	for _, rec := range records {
		m.vectors[rec.Path] = rec.Embedding
	}
	return nil
}

func (m *memEmbeddingStore) TopKByCosineDistance(ctx context.Context, query []float32, k int) ([]domain.Neighbor, error) {
	if len(query) != m.dim {
		return nil, &domain.DimensionError{Want: m.dim, Got: len(query)}
	}
	neighbors := make([]domain.Neighbor, 0, len(m.vectors))
	for path, vec := range m.vectors {
		neighbors = append(neighbors, domain.Neighbor{Path: path, Distance: cosineDistance(query, vec)})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].Path < neighbors[j].Path
	})
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func (m *memEmbeddingStore) Count(ctx context.Context) (int, error) {
	return len(m.vectors), nil
}

func (m *memEmbeddingStore) RemoveDuplicates(ctx context.Context, tolerance int) (int, int, error) {
	// Expected survivors: one embedding per distinct story URL among stored
	// embeddings whose work has one.
	urls := make(map[string]bool)
	for path := range m.vectors {
		if w, ok := m.workStore.works[path]; ok && w.StoryURL != "" {
			urls[w.StoryURL] = true
		}
	}
	expected := len(urls)

	// Work on a snapshot so a failed count check rolls everything back.
	snapshot := make(map[string][]float32, len(m.vectors))
	for path, vec := range m.vectors {
		snapshot[path] = vec
	}

	// Keep the most recently packaged embedding per story URL, path order
	// breaking ties.
	best := make(map[string]string)
	for path := range snapshot {
		w, ok := m.workStore.works[path]
		if !ok || w.StoryURL == "" {
			continue
		}
		cur, seen := best[w.StoryURL]
		if !seen {
			best[w.StoryURL] = path
			continue
		}
		curWork := m.workStore.works[cur]
		if w.Packaged.After(curWork.Packaged) || (w.Packaged.Equal(curWork.Packaged) && path < cur) {
			best[w.StoryURL] = path
		}
	}
	for path := range snapshot {
		w, ok := m.workStore.works[path]
		if !ok || w.StoryURL == "" {
			continue
		}
		if best[w.StoryURL] != path {
			delete(snapshot, path)
		}
	}

	remaining := len(snapshot)
	if remaining < expected-tolerance || remaining > expected+tolerance {
		return expected, remaining, &domain.ReconciliationError{
			Expected:  expected,
			Remaining: remaining,
			Tolerance: tolerance,
		}
	}
	m.vectors = snapshot
	return expected, remaining, nil
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// hashEncoder derives a deterministic vector from each text, so equal texts
// always embed identically.
type hashEncoder struct{}

func (hashEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New32a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum32()
		vec := make([]float32, memDim)
		for d := range vec {
			seed = seed*1664525 + 1013904223
			vec[d] = float32(seed%1000)/1000 + 0.001
		}
		out[i] = vec
	}
	return out, nil
}

func (hashEncoder) Dimension() int  { return memDim }
func (hashEncoder) Version() string { return "hash-encoder-test" }

// textScorer scores each pair from a fixed map keyed by candidate text.
type textScorer struct {
	scores map[string]float32
}

func (s *textScorer) ScorePairs(ctx context.Context, pairs []domain.TextPair) ([]float32, error) {
	out := make([]float32, len(pairs))
	for i, p := range pairs {
		out[i] = s.scores[p.Text]
	}
	return out, nil
}

func (s *textScorer) ModelName() string { return "text-scorer-test" }

func packaged(day int) time.Time {
	return time.Date(2026, time.March, day, 0, 0, 0, 0, time.UTC)
}

func scenarioWorks() []domain.Work {
	return []domain.Work{
		{
			Path: "works/old", Title: "Voyage", Summary: "first scrape",
			StoryURL: "https://example.org/s/1", Language: "English", Packaged: packaged(1),
		},
		{
			Path: "works/new", Title: "Voyage", Summary: "re-scraped after an update",
			StoryURL: "https://example.org/s/1", Language: "English", Packaged: packaged(9),
		},
		{
			Path: "works/other", Title: "Harbor", Summary: "a different story",
			StoryURL: "https://example.org/s/2", Language: "English", Packaged: packaged(5),
		},
	}
}

func newScenarioIndexUsecase(workStore *memWorkStore, embStore *memEmbeddingStore, tolerance int) usecase.IndexWorksUsecase {
	return usecase.NewIndexWorksUsecase(
		workStore, embStore, &fakeTxManager{}, hashEncoder{},
		2, tolerance, testLogger(),
	)
}

func TestIndexingPipeline_UpsertIdempotent(t *testing.T) {
	workStore := newMemWorkStore(scenarioWorks()...)
	embStore := newMemEmbeddingStore(memDim, workStore)
	uc := newScenarioIndexUsecase(workStore, embStore, 10)
	ctx := context.Background()

	first, err := uc.Execute(ctx)
	require.NoError(t, err)
	countAfterFirst, err := embStore.Count(ctx)
	require.NoError(t, err)

	second, err := uc.Execute(ctx)
	require.NoError(t, err)
	countAfterSecond, err := embStore.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Embedded, second.Embedded)
	assert.Equal(t, countAfterFirst, countAfterSecond, "re-running the pipeline must not grow the store")
	assert.True(t, second.Reconciled)
}

func TestIndexingPipeline_DedupKeepsNewestPerStory(t *testing.T) {
	workStore := newMemWorkStore(scenarioWorks()...)
	embStore := newMemEmbeddingStore(memDim, workStore)
	uc := newScenarioIndexUsecase(workStore, embStore, 10)
	ctx := context.Background()

	summary, err := uc.Execute(ctx)
	require.NoError(t, err)

	// Two distinct story URLs survive out of three indexed works.
	assert.Equal(t, 3, summary.Embedded)
	assert.Equal(t, 2, summary.Expected)
	assert.Equal(t, 2, summary.Remaining)
	assert.Contains(t, embStore.vectors, "works/new", "the most recently packaged embedding survives")
	assert.Contains(t, embStore.vectors, "works/other")
	assert.NotContains(t, embStore.vectors, "works/old", "the stale re-scrape is deleted")

	// A converged store deduplicates to itself.
	expected, remaining, err := embStore.RemoveDuplicates(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, expected, remaining)
}

func TestIndexingPipeline_ReconciliationMismatchRollsBack(t *testing.T) {
	works := append(scenarioWorks(),
		// Works without a story URL survive deduplication and push the
		// remaining count past a zero tolerance.
		domain.Work{Path: "works/untracked-1", Title: "Drift", Language: "English", Packaged: packaged(2)},
		domain.Work{Path: "works/untracked-2", Title: "Moor", Language: "English", Packaged: packaged(3)},
	)
	workStore := newMemWorkStore(works...)
	embStore := newMemEmbeddingStore(memDim, workStore)
	uc := newScenarioIndexUsecase(workStore, embStore, 0)
	ctx := context.Background()

	summary, err := uc.Execute(ctx)
	require.Error(t, err)

	var recErr *domain.ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, 2, recErr.Expected)
	assert.Equal(t, 4, recErr.Remaining)
	assert.False(t, summary.Reconciled)

	// The rollback leaves every embedding in place, stale re-scrape included.
	count, err := embStore.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Contains(t, embStore.vectors, "works/old")
}

func TestIndexingPipeline_SkipsNonEnglishWorks(t *testing.T) {
	works := append(scenarioWorks(),
		domain.Work{
			Path: "works/fr", Title: "Reliure", StoryURL: "https://example.org/s/3",
			Language: "French", Packaged: packaged(4),
		},
	)
	workStore := newMemWorkStore(works...)
	embStore := newMemEmbeddingStore(memDim, workStore)
	uc := newScenarioIndexUsecase(workStore, embStore, 10)
	ctx := context.Background()

	summary, err := uc.Execute(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Eligible)
	assert.NotContains(t, embStore.vectors, "works/fr")
}

func TestSearchPipeline_EndToEnd(t *testing.T) {
	workStore := newMemWorkStore(scenarioWorks()...)
	embStore := newMemEmbeddingStore(memDim, workStore)
	ctx := context.Background()

	_, err := newScenarioIndexUsecase(workStore, embStore, 10).Execute(ctx)
	require.NoError(t, err)

	// The cross-encoder prefers the story the coarse stage may rank second.
	scorer := &textScorer{scores: map[string]float32{
		domain.EmbeddingText(workStore.works["works/new"]):   0.4,
		domain.EmbeddingText(workStore.works["works/other"]): 0.9,
	}}
	searchUC := usecase.NewSearchWorksUsecase(
		workStore, embStore, hashEncoder{}, scorer,
		32, time.Second, time.Second, 0, time.Minute, testLogger(),
	)

	out, err := searchUC.Execute(ctx, usecase.SearchWorksInput{Query: "sea voyage"})
	require.NoError(t, err)

	require.Len(t, out.Results, 2, "the deduplicated store yields one result per story")
	assert.Equal(t, "works/other", out.Results[0].Path)
	assert.Equal(t, float32(0.9), out.Results[0].Score)
	assert.Equal(t, "works/new", out.Results[1].Path)
	assert.Equal(t, 2, out.Retrieved)
}
