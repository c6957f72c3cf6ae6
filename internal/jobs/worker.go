package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"report-jobs/internal/models"
	"report-jobs/internal/report"
	"report-jobs/internal/store"
)

// Action tells the queue adapter what to do with the message after Process.
type Action int

const (
	// ActionAck removes the message.
	ActionAck Action = iota
	// ActionRetry returns the message for redelivery.
	ActionRetry
	// ActionDeadLetter routes the message straight to the dead-letter store.
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Outcome is what happened to the job during one delivery. Status is the state the record
// was left in, empty when the record could not be touched.
type Outcome struct {
	JobID        string
	Status       models.Status
	Action       Action
	AttemptCount int
	Result       *models.ReportResult
	Err          error
}

// Undeliverable is the outcome for a message that cannot be decoded into a job.
func Undeliverable(err error) Outcome {
	return Outcome{Action: ActionDeadLetter, Err: err}
}

// Worker runs the RUNNING -> SUCCEEDED/FAILED state machine for one message.
type Worker struct {
	store  store.RecordStore
	corpus report.Corpus
	logger *slog.Logger
	now    func() time.Time
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithWorkerClock overrides the time source.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(st store.RecordStore, corpus report.Corpus, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{store: st, corpus: corpus, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process marks the job running, generates the report from the message's input snapshot
// and records the result. Failures are written to the record and returned with ActionRetry
// so the queue's receive count advances.
func (w *Worker) Process(ctx context.Context, msg models.QueueMessage) Outcome {
	log := w.logger.With(slog.String("job_id", msg.JobID))

	attempts, err := w.store.MarkRunning(ctx, msg.JobID, w.now().UTC())
	if errors.Is(err, store.ErrJobNotFound) {
		log.Warn("job record missing or expired, dropping message")
		return Outcome{JobID: msg.JobID, Action: ActionAck, Err: err}
	}
	if err != nil {
		// FAILED is only reachable from RUNNING, so the record is left alone.
		log.Error("mark running failed", slog.Any("error", err))
		return Outcome{
			JobID:  msg.JobID,
			Action: ActionRetry,
			Err:    &ExecutionError{JobID: msg.JobID, Stage: "mark running", Err: err},
		}
	}
	log.Info("job running", slog.Int("attempt", attempts))

	result, err := report.Generate(msg.Input, w.corpus, w.now().UTC())
	if err != nil {
		var dateErr *report.DateParseError
		if !errors.As(err, &dateErr) {
			err = &ExecutionError{JobID: msg.JobID, Stage: "generate", Err: err}
		}
		return w.fail(ctx, log, msg.JobID, attempts, err)
	}

	err = w.store.MarkSucceeded(ctx, msg.JobID, result, w.now().UTC())
	if errors.Is(err, store.ErrJobNotFound) {
		log.Warn("job record expired before completion, dropping message")
		return Outcome{JobID: msg.JobID, Action: ActionAck, AttemptCount: attempts, Err: err}
	}
	if err != nil {
		// The record stays RUNNING; redelivery retries the whole attempt.
		log.Error("record success failed", slog.Any("error", err))
		return Outcome{
			JobID:        msg.JobID,
			Status:       models.StatusRunning,
			Action:       ActionRetry,
			AttemptCount: attempts,
			Err:          &ExecutionError{JobID: msg.JobID, Stage: "record success", Err: err},
		}
	}

	log.Info("job succeeded", slog.Int("attempt", attempts), slog.Int("result_count", result.ResultCount))
	return Outcome{
		JobID:        msg.JobID,
		Status:       models.StatusSucceeded,
		Action:       ActionAck,
		AttemptCount: attempts,
		Result:       &result,
	}
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, jobID string, attempts int, cause error) Outcome {
	out := Outcome{
		JobID:        jobID,
		Status:       models.StatusFailed,
		Action:       ActionRetry,
		AttemptCount: attempts,
		Err:          cause,
	}
	if err := w.store.MarkFailed(ctx, jobID, cause.Error(), w.now().UTC()); err != nil {
		log.Error("record failure failed", slog.Any("error", err), slog.Any("cause", cause))
		out.Status = ""
		out.Err = errors.Join(cause, fmt.Errorf("record failure: %w", err))
		return out
	}
	log.Warn("job failed", slog.Int("attempt", attempts), slog.Any("error", cause))
	return out
}
