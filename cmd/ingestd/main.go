package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/quarrydata/quarry/internal/config"
	"github.com/quarrydata/quarry/internal/extract"
	"github.com/quarrydata/quarry/internal/job"
	"github.com/quarrydata/quarry/internal/load"
	"github.com/quarrydata/quarry/internal/logging"
	"github.com/quarrydata/quarry/internal/objstore"
	"github.com/quarrydata/quarry/internal/pipeline"
	"github.com/quarrydata/quarry/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"bucket", cfg.ObjectStore.Bucket,
		"workers", cfg.Pipeline.Workers,
		"poller_enabled", cfg.Poller.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	// Migrate bookkeeping tables
	jobs := job.NewPGStore(pool)
	if err := jobs.Migrate(ctx); err != nil {
		slog.Error("failed to migrate jobs table", "error", err)
		os.Exit(1)
	}
	loader := load.New(pool)
	if err := loader.Migrate(ctx); err != nil {
		slog.Error("failed to migrate table catalog", "error", err)
		os.Exit(1)
	}

	// Object store
	gcsClient, err := storage.NewClient(ctx)
	if err != nil {
		slog.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}
	defer gcsClient.Close()
	store := objstore.NewGCS(gcsClient)

	// Text extraction
	gemini, err := extract.NewGeminiExtractor(ctx, cfg.OCR.ProjectID, cfg.OCR.Region, cfg.OCR.Model)
	if err != nil {
		slog.Error("failed to create text extractor", "error", err)
		os.Exit(1)
	}
	defer gemini.Close()
	runner := extract.NewRunner(gemini, extract.Options{
		MaxPages:        cfg.OCR.MaxPages,
		PageConcurrency: cfg.OCR.PageConcurrency,
		MinSuccessRatio: cfg.OCR.MinSuccessRatio,
	})

	// Pipeline
	pipe, err := pipeline.New(store, runner, loader, jobs, pipeline.Config{
		Workers:         cfg.Pipeline.Workers,
		StageTimeout:    cfg.Pipeline.StageTimeout,
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		RetryBackoff:    cfg.Pipeline.RetryBackoff,
		FatalLoadErrors: []error{load.ErrSchemaConflict},
	})
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	// Optional bucket sweep for deployments without upload notifications
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	if cfg.Poller.Enabled {
		poller := pipeline.NewPoller(pipe, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix, cfg.Poller.Interval)
		go poller.Run(jobCtx)
	}

	rateLimit := 0
	if cfg.Rate.Enabled {
		rateLimit = cfg.Rate.RequestsPerMinute
	}
	server := web.NewServer(pipe, jobs, loader, web.Options{
		RateLimitPerMinute: rateLimit,
		HealthCheck:        pool.Ping,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Let in-flight jobs reach a terminal state before exit
		pipe.Close()
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
	}
}
