// Package main provides the HTTP job server for docjobs.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docjobs/internal/config"
	"github.com/raphaelgruber/docjobs/internal/db"
	"github.com/raphaelgruber/docjobs/internal/metrics"
	"github.com/raphaelgruber/docjobs/internal/output"
	"github.com/raphaelgruber/docjobs/internal/provider"
	"github.com/raphaelgruber/docjobs/internal/server"
	"github.com/raphaelgruber/docjobs/internal/service"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	wipe := flag.Bool("wipe", false, "delete all SurrealDB output records on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("docjobs-server starting",
		"version", version,
		"addr", cfg.ServerAddr,
		"docstore", cfg.DocStoreDriver,
		"output", cfg.OutputBackend,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
	)

	wipeOutput := *wipe || os.Getenv("DOCJOBS_WIPE_OUTPUT") == "true"
	if err := run(cfg, wipeOutput, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Config, wipe bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := openOutput(ctx, cfg, wipe, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := out.Close(closeCtx); err != nil {
			logger.Warn("failed to close output", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	stores := service.DocstoreFactory{
		Driver: cfg.DocStoreDriver,
		URL:    cfg.DocStoreURL,
		Logger: logger,
	}
	executor := &service.Executor{
		Stores:       stores,
		Providers:    provider.NewFactory(cfg),
		Output:       out,
		FetchTimeout: cfg.FetchTimeout,
		Metrics:      collector,
		Logger:       logger,
	}
	registry := service.NewRegistry(executor,
		service.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		service.WithLogCapacity(cfg.LogCapacity),
		service.WithStatusLogTail(cfg.StatusLogTail),
		service.WithDefaultBatchSize(cfg.DefaultBatchSize),
		service.WithMetrics(collector),
		service.WithLogger(logger),
	)

	srv, err := server.New(registry, stores, collector, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server ready, awaiting connections", "addr", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// Running jobs release their models before the listener goes away.
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("jobs did not stop in time", "error", err)
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openOutput(ctx context.Context, cfg config.Config, wipe bool, logger *slog.Logger) (output.Writer, error) {
	switch cfg.OutputBackend {
	case config.OutputSurrealDB:
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return output.OpenSurreal(connectCtx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, wipe, logger)
	default:
		if wipe {
			logger.Warn("--wipe only applies to the surrealdb output backend")
		}
		return output.NewFS(cfg.OutputDir)
	}
}
