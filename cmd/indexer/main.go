package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/di"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/indexer"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/config"
)

var (
	version = "dev"

	// Global flags
	verbose    bool
	cursorFile string

	// Run command flags
	batchSize int
	tolerance int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "indexer",
	Short:   "Build the work embedding index",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full indexing pass",
	Long: `Run a full indexing pass: scan every eligible work, embed its
serialized text, upsert the vectors, then deduplicate by story URL.

The cursor file doubles as a single-writer lock, so only one indexing run
can touch the embedding store at a time.

Examples:
  # Full run with defaults
  indexer run

  # Smaller scan batches
  indexer run --batch-size 1000`,
	RunE: runIndex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last indexing run's cursor",
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Clear the cursor file",
	RunE:  resetCursor,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cursorFile, "cursor-file", "", "cursor file path (defaults to INDEX_CURSOR_FILE)")

	runCmd.Flags().IntVar(&batchSize, "batch-size", 0, "works per scan batch (defaults to INDEX_SCAN_BATCH_SIZE)")
	runCmd.Flags().IntVar(&tolerance, "tolerance", -1, "allowed deduplication count drift (defaults to INDEX_DEDUP_TOLERANCE)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func cursorPath(cfg *config.Config) string {
	if cursorFile != "" {
		return cursorFile
	}
	return cfg.Index.CursorFile
}

func runIndex(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg := config.Load()
	if batchSize > 0 {
		cfg.Index.ScanBatchSize = batchSize
	}
	if tolerance >= 0 {
		cfg.Index.DedupTolerance = tolerance
	}

	manager := indexer.NewCursorManager(cursorPath(cfg))
	if err := manager.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := manager.Unlock(); err != nil {
			logger.Warn("failed to release cursor lock", slog.String("error", err.Error()))
		}
	}()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", slog.String("signal", sig.String()))
		cancel()
	}()

	pool, err := infra.NewPostgresDB(ctx, cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()

	components := di.NewApplicationComponents(cfg, pool, logger)

	if err := components.EmbeddingRepo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure embedding schema: %w", err)
	}

	logger.Info("starting indexing run",
		slog.Int("batch_size", cfg.Index.ScanBatchSize),
		slog.Int("tolerance", cfg.Index.DedupTolerance),
		slog.String("cursor_file", manager.FilePath()),
	)

	summary, err := components.IndexUsecase.Execute(ctx)
	if summary != nil {
		if saveErr := manager.Save(indexer.Cursor{
			LastPath:       summary.LastPath,
			ProcessedCount: summary.Embedded,
		}); saveErr != nil {
			logger.Warn("failed to save cursor", slog.String("error", saveErr.Error()))
		}
	}
	if err != nil {
		if ctx.Err() == context.Canceled {
			logger.Info("indexing interrupted")
			return nil
		}
		return fmt.Errorf("run indexing: %w", err)
	}

	fmt.Printf("Indexing complete. Eligible: %d, Embedded: %d, Remaining after dedup: %d (took %s)\n",
		summary.Eligible, summary.Embedded, summary.Remaining, summary.Elapsed.Round(time.Millisecond))
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	manager := indexer.NewCursorManager(cursorPath(cfg))

	cursor, err := manager.Load()
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	if cursor.IsEmpty() {
		fmt.Println("No cursor found. No indexing run has completed yet.")
		return nil
	}

	fmt.Printf("Cursor Status:\n")
	fmt.Printf("  Version:         %d\n", cursor.Version)
	fmt.Printf("  Last Path:       %s\n", cursor.LastPath)
	fmt.Printf("  Processed Count: %d\n", cursor.ProcessedCount)
	fmt.Printf("  Updated At:      %s\n", cursor.UpdatedAt.Format(time.RFC3339))
	return nil
}

func resetCursor(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	manager := indexer.NewCursorManager(cursorPath(cfg))

	if err := manager.Reset(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	fmt.Println("Cursor reset.")
	return nil
}
