// Package bootstrap opens the backends selected by configuration for the cmd binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"report-jobs/internal/config"
	"report-jobs/internal/queue"
	"report-jobs/internal/report"
	"report-jobs/internal/store"
)

// Deps are the shared collaborators of the api and worker processes.
type Deps struct {
	Store store.RecordStore
	Queue queue.MessageQueue
	// Redis is set when the record store or the queue runs on Redis.
	Redis *redis.Client

	closers []func()
}

// Purger returns the store's expiry sweep, or nil when the store expires records itself.
func (d *Deps) Purger() store.Purger {
	if p, ok := d.Store.(store.Purger); ok {
		return p
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// Open connects the record store and queue named in cfg.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Deps, error) {
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	// The api and worker are separate processes, so the record store must be shared.
	if cfg.RecordStore == "memory" {
		return nil, errors.New("record store memory cannot be shared between the api and worker")
	}

	if cfg.RecordStore == "redis" || cfg.QueueBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.closers = append(d.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		d.Redis = client
	}

	switch cfg.RecordStore {
	case "redis":
		d.Store = store.NewRedis(d.Redis)
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		d.Store = pg
	default:
		return nil, fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}

	switch cfg.QueueBackend {
	case "redis":
		d.Queue = queue.NewRedisQueue(d.Redis, queue.RedisQueueOptions{
			Name:              cfg.QueueName,
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxReceives:       cfg.MaxReceives,
			BackoffInitial:    cfg.BackoffInitial,
			BackoffMax:        cfg.BackoffMax,
		})
	case "amqp":
		q, err := queue.NewAMQPQueue(queue.AMQPQueueOptions{
			URL:         cfg.AMQPURL,
			Name:        cfg.QueueName,
			MaxReceives: cfg.MaxReceives,
			Prefetch:    cfg.WorkerConcurrency,
			PollWait:    cfg.WorkerPollInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.Queue = q
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
	d.closers = append(d.closers, func() { _ = d.Queue.Close() })

	logger.Info("backends ready",
		slog.String("record_store", cfg.RecordStore),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("queue", cfg.QueueName),
	)
	ok = true
	return d, nil
}

// Corpus loads the report corpus from cfg.CorpusFile, or the built-in dataset when unset.
func Corpus(cfg config.Config) (report.Corpus, error) {
	if cfg.CorpusFile == "" {
		return report.DefaultCorpus(), nil
	}
	c, err := report.LoadCorpusFile(cfg.CorpusFile)
	if err != nil {
		return nil, err
	}
	return c, nil
}
