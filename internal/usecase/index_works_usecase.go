package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"
)

// IndexSummary reports what one full indexing run did.
type IndexSummary struct {
	Eligible   int
	Embedded   int
	Batches    int
	Expected   int
	Remaining  int
	Reconciled bool
	LastPath   string
	Elapsed    time.Duration
}

// IndexWorksUsecase runs the offline indexing pipeline: stream every
// eligible work out of the metadata store, embed its serialized text, upsert
// the vectors, then deduplicate by story URL.
type IndexWorksUsecase interface {
	Execute(ctx context.Context) (*IndexSummary, error)
}

type indexWorksUsecase struct {
	workRepo       domain.WorkRepository
	embeddingRepo  domain.EmbeddingRepository
	txManager      domain.TransactionManager
	encoder        domain.VectorEncoder
	scanBatchSize  int
	dedupTolerance int
	logger         *slog.Logger
}

func NewIndexWorksUsecase(
	workRepo domain.WorkRepository,
	embeddingRepo domain.EmbeddingRepository,
	txManager domain.TransactionManager,
	encoder domain.VectorEncoder,
	scanBatchSize int,
	dedupTolerance int,
	logger *slog.Logger,
) IndexWorksUsecase {
	return &indexWorksUsecase{
		workRepo:       workRepo,
		embeddingRepo:  embeddingRepo,
		txManager:      txManager,
		encoder:        encoder,
		scanBatchSize:  scanBatchSize,
		dedupTolerance: dedupTolerance,
		logger:         logger,
	}
}

func (u *indexWorksUsecase) Execute(ctx context.Context) (*IndexSummary, error) {
	start := time.Now()
	summary := &IndexSummary{}

	eligible, err := u.workRepo.CountEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible works: %w", err)
	}
	summary.Eligible = eligible

	u.logger.InfoContext(ctx, "indexing_started",
		slog.Int("eligible", eligible),
		slog.Int("batch_size", u.scanBatchSize),
		slog.String("model", u.encoder.Version()))

	err = u.workRepo.ScanBatches(ctx, u.scanBatchSize, func(ctx context.Context, works []domain.Work) error {
		if err := u.indexBatch(ctx, works); err != nil {
			return err
		}
		summary.Batches++
		summary.Embedded += len(works)
		if len(works) > 0 {
			summary.LastPath = works[len(works)-1].Path
		}
		u.logger.InfoContext(ctx, "batch_indexed",
			slog.Int("batch", summary.Batches),
			slog.Int("embedded", summary.Embedded),
			slog.Int("eligible", eligible))
		return nil
	})
	if err != nil {
		return summary, err
	}

	// Scraper runs append rather than update, so a story re-scraped after
	// an update shows up twice. Keep only the most recently packaged
	// embedding per story URL. A failed count check rolls the whole
	// deletion back and is reported, not fatal: the index is still usable,
	// just with duplicates.
	expected, remaining, err := u.embeddingRepo.RemoveDuplicates(ctx, u.dedupTolerance)
	summary.Expected = expected
	summary.Remaining = remaining
	if err != nil {
		var recErr *domain.ReconciliationError
		if errors.As(err, &recErr) {
			summary.Elapsed = time.Since(start)
			u.logger.ErrorContext(ctx, "deduplication_rolled_back",
				slog.Int("expected", recErr.Expected),
				slog.Int("remaining", recErr.Remaining),
				slog.Int("tolerance", recErr.Tolerance))
			return summary, err
		}
		return summary, fmt.Errorf("failed to deduplicate embeddings: %w", err)
	}
	summary.Reconciled = true
	summary.Elapsed = time.Since(start)

	u.logger.InfoContext(ctx, "indexing_completed",
		slog.Int("eligible", summary.Eligible),
		slog.Int("embedded", summary.Embedded),
		slog.Int("remaining", summary.Remaining),
		slog.Int64("elapsed_ms", summary.Elapsed.Milliseconds()))

	return summary, nil
}

// indexBatch embeds one scan batch and upserts it atomically. A failure
// anywhere leaves the store without any of this batch's rows; earlier
// batches stay committed, which is safe because upserts are idempotent and
// the next run redoes them.
func (u *indexWorksUsecase) indexBatch(ctx context.Context, works []domain.Work) error {
	if len(works) == 0 {
		return nil
	}

	texts := make([]string, len(works))
	for i, w := range works {
		texts[i] = domain.EmbeddingText(w)
	}

	vectors, err := u.encoder.Encode(ctx, texts)
	if err != nil {
		return &domain.OracleError{Stage: domain.OracleStageEmbed, Err: err}
	}
	if len(vectors) != len(works) {
		return &domain.OracleError{
			Stage: domain.OracleStageEmbed,
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(works), len(vectors)),
		}
	}

	records := make([]domain.EmbeddingRecord, len(works))
	for i, w := range works {
		records[i] = domain.EmbeddingRecord{Path: w.Path, Embedding: vectors[i]}
	}

	return u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		if err := u.embeddingRepo.UpsertBatch(ctx, records); err != nil {
			return fmt.Errorf("failed to upsert embedding batch: %w", err)
		}
		return nil
	})
}
