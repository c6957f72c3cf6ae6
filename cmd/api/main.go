package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	api "report-jobs/internal/api"
	"report-jobs/internal/bootstrap"
	"report-jobs/internal/config"
	"report-jobs/internal/jobs"
	"report-jobs/internal/logging"
	"report-jobs/internal/ratelimit"
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

	var limiter api.Limiter
	if deps.Redis != nil && cfg.RateLimitCapacity > 0 {
		limiter = ratelimit.NewTokenBucket(deps.Redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	submitter := jobs.NewSubmitter(deps.Store, deps.Queue, logger, jobs.WithRetention(cfg.JobRetention))
	server := api.New(submitter, deps.Store, deps.Queue, limiter, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("api listening", slog.String("addr", httpServer.Addr), slog.Bool("rate_limited", limiter != nil))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api stopped")
}
