package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SearchWorksInput defines the input parameters for SearchWorks.
type SearchWorksInput struct {
	Query string
	// TopK overrides the configured candidate count when positive.
	TopK int
}

// SearchWorksOutput defines the output for SearchWorks.
type SearchWorksOutput struct {
	Results []domain.RetrievedWork
	// Retrieved is the candidate count before orphan filtering.
	Retrieved int
	Elapsed   time.Duration
}

// SearchWorksUsecase runs the two-stage query pipeline: coarse vector
// retrieval over the embedding store, then cross-encoder reranking of the
// surviving candidates.
type SearchWorksUsecase interface {
	Execute(ctx context.Context, input SearchWorksInput) (*SearchWorksOutput, error)
}

type searchWorksUsecase struct {
	workRepo      domain.WorkRepository
	embeddingRepo domain.EmbeddingRepository
	encoder       domain.VectorEncoder
	scorer        domain.CrossScorer
	queryCache    *expirable.LRU[string, []float32]
	topK          int
	stageTimeout  time.Duration
	rerankTimeout time.Duration
	logger        *slog.Logger
}

// NewSearchWorksUsecase creates a new SearchWorksUsecase. stageTimeout bounds
// each preparatory stage (embed, retrieve, metadata join); rerankTimeout
// bounds the cross-encoder pass separately since it scores topK pairs.
// cacheSize and cacheTTL bound the query-embedding cache; a zero size
// disables it.
func NewSearchWorksUsecase(
	workRepo domain.WorkRepository,
	embeddingRepo domain.EmbeddingRepository,
	encoder domain.VectorEncoder,
	scorer domain.CrossScorer,
	topK int,
	stageTimeout time.Duration,
	rerankTimeout time.Duration,
	cacheSize int,
	cacheTTL time.Duration,
	logger *slog.Logger,
) SearchWorksUsecase {
	var cache *expirable.LRU[string, []float32]
	if cacheSize > 0 {
		cache = expirable.NewLRU[string, []float32](cacheSize, nil, cacheTTL)
	}
	return &searchWorksUsecase{
		workRepo:      workRepo,
		embeddingRepo: embeddingRepo,
		encoder:       encoder,
		scorer:        scorer,
		queryCache:    cache,
		topK:          topK,
		stageTimeout:  stageTimeout,
		rerankTimeout: rerankTimeout,
		logger:        logger,
	}
}

// withStageTimeout derives a per-stage context. A zero timeout leaves the
// caller's context untouched.
func (u *searchWorksUsecase) withStageTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.stageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, u.stageTimeout)
}

func (u *searchWorksUsecase) Execute(ctx context.Context, input SearchWorksInput) (*SearchWorksOutput, error) {
	start := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}

	k := input.TopK
	if k <= 0 {
		k = u.topK
	}

	// 1. Embed the query with the bi-encoder.
	embedCtx, cancelEmbed := u.withStageTimeout(ctx)
	queryVector, err := u.embedQuery(embedCtx, query)
	cancelEmbed()
	if err != nil {
		return nil, err
	}

	// 2. Coarse retrieval: nearest stored embeddings by cosine distance.
	retrieveCtx, cancelRetrieve := u.withStageTimeout(ctx)
	neighbors, err := u.embeddingRepo.TopKByCosineDistance(retrieveCtx, queryVector, k)
	cancelRetrieve()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve candidates: %w", err)
	}
	if len(neighbors) == 0 {
		return &SearchWorksOutput{Results: []domain.RetrievedWork{}, Elapsed: time.Since(start)}, nil
	}

	// 3. Join candidates against the metadata store. An embedding whose
	// path has no metadata row is logged and dropped; the query goes on
	// with the rest.
	paths := make([]string, len(neighbors))
	for i, n := range neighbors {
		paths[i] = n.Path
	}
	joinCtx, cancelJoin := u.withStageTimeout(ctx)
	works, err := u.workRepo.LookupByPaths(joinCtx, paths)
	cancelJoin()
	if err != nil {
		return nil, fmt.Errorf("failed to look up candidate metadata: %w", err)
	}

	type candidate struct {
		work     domain.Work
		distance float32
	}
	candidates := make([]candidate, 0, len(neighbors))
	for _, n := range neighbors {
		work, ok := works[n.Path]
		if !ok {
			u.logger.WarnContext(ctx, "orphaned_embedding_skipped",
				slog.String("path", n.Path),
				slog.String("error", domain.ErrOrphanedEmbedding.Error()))
			continue
		}
		candidates = append(candidates, candidate{work: work, distance: n.Distance})
	}
	if len(candidates) == 0 {
		return &SearchWorksOutput{
			Results:   []domain.RetrievedWork{},
			Retrieved: len(neighbors),
			Elapsed:   time.Since(start),
		}, nil
	}

	// 4. Rerank with the cross-encoder. The pairs are scored against the
	// same serialized text the embeddings were built from. A reranker
	// failure fails the whole query; a half-ranked result list is worse
	// than an error.
	pairs := make([]domain.TextPair, len(candidates))
	for i, c := range candidates {
		pairs[i] = domain.TextPair{Query: query, Text: domain.EmbeddingText(c.work)}
	}

	rerankCtx, cancel := context.WithTimeout(ctx, u.rerankTimeout)
	scores, err := u.scorer.ScorePairs(rerankCtx, pairs)
	cancel()
	if err != nil {
		return nil, &domain.OracleError{Stage: domain.OracleStageRerank, Err: err}
	}
	if len(scores) != len(pairs) {
		return nil, &domain.OracleError{
			Stage: domain.OracleStageRerank,
			Err:   fmt.Errorf("expected %d scores, got %d", len(pairs), len(scores)),
		}
	}

	// 5. Final order: cross-encoder score descending; ties broken by
	// ascending retrieval distance.
	type ranked struct {
		candidate
		score float32
	}
	order := make([]ranked, len(candidates))
	for i, c := range candidates {
		order[i] = ranked{candidate: c, score: scores[i]}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].distance < order[j].distance
	})

	results := make([]domain.RetrievedWork, len(order))
	for i, r := range order {
		results[i] = domain.RetrievedWork{Work: r.work, Score: r.score}
	}

	elapsed := time.Since(start)
	u.logger.InfoContext(ctx, "search_completed",
		slog.Int("retrieved", len(neighbors)),
		slog.Int("ranked", len(results)),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()))

	return &SearchWorksOutput{
		Results:   results,
		Retrieved: len(neighbors),
		Elapsed:   elapsed,
	}, nil
}

// embedQuery returns the bi-encoder vector for the query, consulting the
// expiring LRU cache first. The vector is a pure function of the query text,
// so cached entries never go stale within their TTL.
func (u *searchWorksUsecase) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if u.queryCache != nil {
		if vec, ok := u.queryCache.Get(query); ok {
			return vec, nil
		}
	}

	vectors, err := u.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, &domain.OracleError{Stage: domain.OracleStageEmbed, Err: err}
	}
	if len(vectors) != 1 {
		return nil, &domain.OracleError{
			Stage: domain.OracleStageEmbed,
			Err:   fmt.Errorf("expected 1 embedding, got %d", len(vectors)),
		}
	}

	if u.queryCache != nil {
		u.queryCache.Add(query, vectors[0])
	}
	return vectors[0], nil
}
