package di

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/adapter/oracle"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/adapter/repository"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/config"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/indexer"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/httpclient"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/usecase"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	WorkRepo      domain.WorkRepository
	EmbeddingRepo domain.EmbeddingRepository
	JobRepo       domain.IndexJobRepository

	// Oracle clients
	Encoder domain.VectorEncoder
	Scorer  domain.CrossScorer

	// Usecases
	SearchUsecase usecase.SearchWorksUsecase
	IndexUsecase  usecase.IndexWorksUsecase

	// Worker
	Worker *worker.IndexWorker
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	// Repositories
	workRepo := repository.NewWorkRepository(pool)
	embeddingRepo := repository.NewEmbeddingRepository(pool, cfg.Oracle.Dimension)
	jobRepo := repository.NewIndexJobRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	// Shared HTTP clients with connection pooling
	oracleTimeout := time.Duration(cfg.Oracle.Timeout) * time.Second
	embedHTTP := httpclient.NewPooledClient(oracleTimeout)
	rerankHTTP := httpclient.NewPooledClient(oracleTimeout)

	// Oracle clients
	encoder := oracle.NewEmbedder(
		cfg.Oracle.EmbedURL, cfg.Oracle.EmbedModel,
		cfg.Oracle.Dimension, cfg.Oracle.BatchSize,
		cfg.Oracle.RatePerSec, oracleTimeout, log, embedHTTP,
	)
	scorer := oracle.NewReranker(
		cfg.Oracle.RerankURL, cfg.Oracle.RerankModel,
		cfg.Oracle.BatchSize, cfg.Oracle.RatePerSec, oracleTimeout, log, rerankHTTP,
	)

	// Usecases
	searchUsecase := usecase.NewSearchWorksUsecase(
		workRepo, embeddingRepo, encoder, scorer,
		cfg.Search.TopK,
		time.Duration(cfg.Search.StageTimeout)*time.Second,
		time.Duration(cfg.Search.RerankTimeout)*time.Second,
		cfg.Cache.Size,
		time.Duration(cfg.Cache.TTL)*time.Minute,
		log,
	)
	indexUsecase := usecase.NewIndexWorksUsecase(
		workRepo, embeddingRepo, txManager, encoder,
		cfg.Index.ScanBatchSize, cfg.Index.DedupTolerance, log,
	)

	// Worker. The cursor file's flock doubles as the run lock, so a queued
	// job and a standalone indexer invocation never index concurrently.
	runLock := indexer.NewCursorManager(cfg.Index.CursorFile)
	indexWorker := worker.NewIndexWorker(jobRepo, indexUsecase, runLock, log)

	return &ApplicationComponents{
		WorkRepo:      workRepo,
		EmbeddingRepo: embeddingRepo,
		JobRepo:       jobRepo,
		Encoder:       encoder,
		Scorer:        scorer,
		SearchUsecase: searchUsecase,
		IndexUsecase:  indexUsecase,
		Worker:        indexWorker,
	}
}
