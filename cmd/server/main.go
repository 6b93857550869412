package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/adapter/repository"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/adapter/search_http"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/di"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/config"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/logger"
	"github.com/AndreyVLD/AO3-Semantic-Searcher/internal/infra/telemetry"
)

func main() {
	// 1. Load Config
	cfg := config.Load()

	// 2. Initialize Telemetry + Logger
	telemetryCfg := telemetry.ConfigFromEnv()
	shutdownTelemetry, err := telemetry.InitProvider(context.Background(), telemetryCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init telemetry: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	log := logger.NewWithOTel(telemetryCfg.Enabled)
	slog.SetDefault(log)

	// 3. Initialize DB
	dbPool, err := infra.NewPostgresDB(context.Background(), cfg.DB.DSN(), infra.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		log.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// 4. Wire Components
	components := di.NewApplicationComponents(cfg, dbPool, log)

	// 5. Ensure Schema
	if err := components.EmbeddingRepo.EnsureSchema(context.Background()); err != nil {
		log.Error("failed to ensure embedding schema", "error", err)
		os.Exit(1)
	}
	if err := repository.EnsureJobSchema(context.Background(), dbPool); err != nil {
		log.Error("failed to ensure job schema", "error", err)
		os.Exit(1)
	}

	// 6. Start Worker
	components.Worker.Start()
	defer func() {
		log.Info("Stopping worker...")
		components.Worker.Stop()
	}()

	// 7. Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// 8. Register Handlers
	handler := search_http.NewHandler(components.SearchUsecase, components.JobRepo)
	handler.RegisterRoutes(e)

	// 9. Health Checks
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := dbPool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "db down", "error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// 10. Start Server (h2c so internal callers can use HTTP/2 without TLS)
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h2c.NewHandler(e, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
