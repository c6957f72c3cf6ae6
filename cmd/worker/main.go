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

	"github.com/joho/godotenv"

	"report-jobs/internal/archive"
	"report-jobs/internal/bootstrap"
	"report-jobs/internal/config"
	"report-jobs/internal/jobs"
	"report-jobs/internal/logging"
	"report-jobs/internal/telemetry"
	workerproc "report-jobs/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	deps, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	corpus, err := bootstrap.Corpus(cfg)
	if err != nil {
		logger.Error("load corpus", slog.Any("error", err))
		os.Exit(1)
	}

	archiver, err := archive.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Error("init archive", slog.Any("error", err))
		os.Exit(1)
	}

	// Use WORKER_ID, then the hostname, to tell workers apart in logs.
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	opts := []workerproc.Option{workerproc.WithWorkerID(workerID)}
	if p := deps.Purger(); p != nil {
		opts = append(opts, workerproc.WithPurger(p))
	}
	if archiver != nil {
		opts = append(opts, workerproc.WithArchiver(archiver))
	}
	w := jobs.NewWorker(deps.Store, corpus, logger)
	processor := workerproc.NewProcessor(cfg, deps.Queue, w, logger, opts...)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker started",
		slog.String("worker_id", workerID),
		slog.Duration("visibility", cfg.VisibilityTimeout),
		slog.Duration("backoff_initial", cfg.BackoffInitial),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Bool("archive", archiver != nil),
	)
	if err := processor.Run(ctx); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}
