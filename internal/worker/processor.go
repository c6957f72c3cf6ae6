package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"report-jobs/internal/archive"
	"report-jobs/internal/config"
	"report-jobs/internal/jobs"
	"report-jobs/internal/models"
	"report-jobs/internal/queue"
	"report-jobs/internal/store"
	"report-jobs/internal/telemetry"
)

const maintenanceBatch = 100

// Processor drives the worker execution loops: it pulls deliveries, hands them to the job
// state machine and settles each message according to the outcome.
type Processor struct {
	cfg      config.Config
	queue    queue.MessageQueue
	worker   *jobs.Worker
	purger   store.Purger
	archiver *archive.Archiver
	logger   *slog.Logger
	workerID string
}

// Option customises a Processor.
type Option func(*Processor)

// WithPurger enables the periodic expired-record sweep.
func WithPurger(p store.Purger) Option {
	return func(pr *Processor) { pr.purger = p }
}

// WithArchiver copies successful results to the archive.
func WithArchiver(a *archive.Archiver) Option {
	return func(pr *Processor) { pr.archiver = a }
}

// WithWorkerID tags log lines with a worker identity.
func WithWorkerID(id string) Option {
	return func(pr *Processor) { pr.workerID = id }
}

func NewProcessor(cfg config.Config, q queue.MessageQueue, w *jobs.Worker, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		cfg:    cfg,
		queue:  q,
		worker: w,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerID != "" {
		p.logger = p.logger.With(slog.String("worker_id", p.workerID))
	}
	return p
}

// Run starts WorkerConcurrency consumer loops plus queue maintenance and the purge sweep,
// and blocks until ctx is cancelled or a loop fails.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	loops := p.cfg.WorkerConcurrency
	if loops <= 0 {
		loops = 1
	}
	for i := 0; i < loops; i++ {
		loop := i
		g.Go(func() error { return p.consume(ctx, loop) })
	}
	if m, ok := p.queue.(queue.Maintainer); ok {
		g.Go(func() error { return p.maintain(ctx, m) })
	}
	if p.purger != nil && p.cfg.PurgeInterval > 0 {
		g.Go(func() error { return p.purge(ctx) })
	}

	p.logger.Info("processor started", slog.Int("loops", loops))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Processor) consume(ctx context.Context, loop int) error {
	log := p.logger.With(slog.Int("loop", loop))
	for {
		if ctx.Err() != nil {
			return nil
		}
		handled, err := p.HandleOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("receive failed", slog.Any("error", err))
		}
		if handled {
			continue
		}
		if !sleep(ctx, p.pollInterval()) {
			return nil
		}
	}
}

// HandleOnce receives at most one message and settles it. It reports whether a message
// was handled.
func (p *Processor) HandleOnce(ctx context.Context) (bool, error) {
	d, err := p.queue.Receive(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	p.handle(ctx, d)
	return true, nil
}

func (p *Processor) handle(ctx context.Context, d *queue.Delivery) jobs.Outcome {
	start := time.Now()
	telemetry.InFlightGauge.Inc()
	defer func() {
		telemetry.InFlightGauge.Dec()
		telemetry.ProcessingSeconds.Observe(time.Since(start).Seconds())
	}()

	var out jobs.Outcome
	msg, err := d.Decode()
	if err != nil {
		out = jobs.Undeliverable(err)
	} else {
		out = p.worker.Process(ctx, msg)
	}

	log := p.logger.With(
		slog.String("message_id", d.ID),
		slog.Int("receive_count", d.ReceiveCount),
		slog.String("action", out.Action.String()),
	)
	if out.JobID != "" {
		log = log.With(slog.String("job_id", out.JobID))
	}

	// Settle even when shutting down so the lease is released.
	settleCtx := context.WithoutCancel(ctx)
	if err := p.settle(settleCtx, d, out); err != nil {
		log.Error("settle message failed", slog.Any("error", err))
		return out
	}

	switch {
	case out.Action == jobs.ActionDeadLetter:
		telemetry.WorkerDeadLetter.Inc()
		log.Error("message dead-lettered", slog.Any("error", out.Err))
	case out.Action == jobs.ActionRetry:
		telemetry.WorkerFailures.Inc()
		log.Warn("message returned for redelivery", slog.Any("error", out.Err))
	case out.Status == models.StatusSucceeded:
		telemetry.WorkerSuccess.Inc()
		p.archive(settleCtx, log, out)
	default:
		telemetry.WorkerDropped.Inc()
		log.Warn("message acked without a result", slog.Any("error", out.Err))
	}
	return out
}

func (p *Processor) settle(ctx context.Context, d *queue.Delivery, out jobs.Outcome) error {
	switch out.Action {
	case jobs.ActionAck:
		return p.queue.Ack(ctx, d)
	case jobs.ActionRetry:
		return p.queue.Nack(ctx, d)
	case jobs.ActionDeadLetter:
		return p.queue.DeadLetter(ctx, d)
	}
	return fmt.Errorf("unknown action %s", out.Action)
}

func (p *Processor) archive(ctx context.Context, log *slog.Logger, out jobs.Outcome) {
	if p.archiver == nil || out.Result == nil {
		return
	}
	location, err := p.archiver.Store(ctx, out.JobID, *out.Result)
	if err != nil {
		telemetry.ArchiveFailures.Inc()
		log.Warn("archive result failed", slog.Any("error", err))
		return
	}
	log.Debug("result archived", slog.String("location", location))
}

type depthReporter interface {
	ReadyDepth(ctx context.Context) (int64, error)
}

func (p *Processor) maintain(ctx context.Context, m queue.Maintainer) error {
	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		stats, err := m.Maintain(ctx, time.Now(), maintenanceBatch)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("queue maintenance failed", slog.Any("error", err))
			}
			continue
		}
		if stats.Reclaimed > 0 || stats.Promoted > 0 {
			p.logger.Info("queue maintenance",
				slog.Int("reclaimed", stats.Reclaimed),
				slog.Int("promoted", stats.Promoted),
			)
		}
		if dr, ok := m.(depthReporter); ok {
			if depth, err := dr.ReadyDepth(ctx); err == nil {
				telemetry.QueueDepthGauge.Set(float64(depth))
			}
		}
	}
}

func (p *Processor) purge(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := p.purger.PurgeExpired(ctx, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("purge expired jobs failed", slog.Any("error", err))
			}
			continue
		}
		if n > 0 {
			telemetry.RecordsPurged.Add(float64(n))
			p.logger.Info("purged expired jobs", slog.Int64("count", n))
		}
	}
}

func (p *Processor) pollInterval() time.Duration {
	if p.cfg.WorkerPollInterval > 0 {
		return p.cfg.WorkerPollInterval
	}
	return time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
