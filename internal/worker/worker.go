package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/domain"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/logger"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/usecase"
)

const (
	defaultPollInterval = 1 * time.Second
	// A full re-index scans every eligible work through the embedder.
	jobTimeout     = 2 * time.Hour
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Minute
)

// RunLock guards the embedding store against concurrent indexing runs. The
// cursor file's flock satisfies it, so a worker-claimed job and a standalone
// indexer run never write at the same time.
type RunLock interface {
	Lock() error
	Unlock() error
}

// IndexWorker polls the index_jobs queue and runs the indexing pipeline for
// each claimed job. Jobs are claimed with FOR UPDATE SKIP LOCKED, so running
// several workers is safe, though one full re-index at a time is plenty.
type IndexWorker struct {
	jobRepo      domain.IndexJobRepository
	indexUsecase usecase.IndexWorksUsecase
	runLock      RunLock
	logger       *slog.Logger
	stopChan     chan struct{}
	backoff      time.Duration
}

func NewIndexWorker(
	jobRepo domain.IndexJobRepository,
	indexUsecase usecase.IndexWorksUsecase,
	runLock RunLock,
	logger *slog.Logger,
) *IndexWorker {
	return &IndexWorker{
		jobRepo:      jobRepo,
		indexUsecase: indexUsecase,
		runLock:      runLock,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

func (w *IndexWorker) Start() {
	w.logger.Info("Starting IndexWorker")
	go w.run()
}

func (w *IndexWorker) Stop() {
	w.logger.Info("Stopping IndexWorker")
	close(w.stopChan)
}

func (w *IndexWorker) run() {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processNextJob()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(defaultPollInterval)
			}
		}
	}
}

func (w *IndexWorker) processNextJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, err := w.jobRepo.AcquireNext(ctx)
	if err != nil {
		w.logger.Error("Failed to acquire next job", "error", err)
		return
	}
	if job == nil {
		return // No jobs
	}

	ctx = logger.WithJobID(ctx, job.ID.String())

	// Only one indexing run may write the embedding store. If a standalone
	// indexer invocation holds the lock, put the job back in the queue and
	// back off instead of racing it.
	if w.runLock != nil {
		if err := w.runLock.Lock(); err != nil {
			w.backoff = w.nextBackoff(w.backoff)
			w.logger.WarnContext(ctx, "Index run lock held, requeueing job",
				"job_id", job.ID, "backoff", w.backoff, "error", err)
			if err := w.jobRepo.UpdateStatus(ctx, job.ID, domain.JobStatusNew, nil); err != nil {
				w.logger.ErrorContext(ctx, "Failed to requeue job", "job_id", job.ID, "error", err)
			}
			return
		}
		defer func() {
			if err := w.runLock.Unlock(); err != nil {
				w.logger.WarnContext(ctx, "Failed to release index run lock", "error", err)
			}
		}()
	}

	w.logger.InfoContext(ctx, "Processing index job", "job_id", job.ID)

	summary, processErr := w.indexUsecase.Execute(ctx)

	status := domain.JobStatusCompleted
	var errMsg *string
	if processErr != nil {
		status = domain.JobStatusFailed
		msg := processErr.Error()
		errMsg = &msg
		w.backoff = w.nextBackoff(w.backoff)
		w.logger.WarnContext(ctx, "Worker backing off", "job_id", job.ID, "backoff", w.backoff, "error", processErr)
	} else {
		w.backoff = 0
		w.logger.InfoContext(ctx, "Index job completed",
			"job_id", job.ID,
			"embedded", summary.Embedded,
			"remaining", summary.Remaining,
			"elapsed_ms", summary.Elapsed.Milliseconds())
	}

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "Failed to update job status", "job_id", job.ID, "error", err)
	}
}

func (w *IndexWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
