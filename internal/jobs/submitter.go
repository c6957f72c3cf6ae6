// Package jobs holds the report job lifecycle: the submitter that records and enqueues a
// request, and the worker state machine that runs one delivery to a terminal state.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"report-jobs/internal/models"
	"report-jobs/internal/queue"
	"report-jobs/internal/store"
	"report-jobs/internal/telemetry"
)

// DefaultRetention is how long a job record lives after creation.
const DefaultRetention = 7 * 24 * time.Hour

// Submitter records new jobs and hands them to the queue.
type Submitter struct {
	store     store.RecordStore
	queue     queue.MessageQueue
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	retention time.Duration
}

// SubmitterOption customises a Submitter.
type SubmitterOption func(*Submitter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SubmitterOption {
	return func(s *Submitter) { s.now = now }
}

// WithRetention sets the record retention window.
func WithRetention(d time.Duration) SubmitterOption {
	return func(s *Submitter) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) SubmitterOption {
	return func(s *Submitter) { s.newID = fn }
}

func NewSubmitter(st store.RecordStore, q queue.MessageQueue, logger *slog.Logger, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		store:     st,
		queue:     q,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, writes a QUEUED record and sends the dispatch message. A send
// failure after a successful write returns *DeliveryGapError alongside the handle.
func (s *Submitter) Submit(ctx context.Context, req models.ReportRequest) (models.JobHandle, error) {
	if err := Validate(req); err != nil {
		telemetry.JobsRejected.Inc()
		return models.JobHandle{}, err
	}

	now := s.now().UTC()
	job := models.Job{
		ID:        s.newID(),
		Type:      req.ReportType,
		Status:    models.StatusQueued,
		Input:     req,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return models.JobHandle{}, fmt.Errorf("create job record: %w", err)
	}

	if err := s.queue.Send(ctx, models.QueueMessage{JobID: job.ID, Input: req}); err != nil {
		telemetry.DeliveryGaps.Inc()
		s.logger.Error("job recorded but enqueue failed",
			slog.String("job_id", job.ID),
			slog.String("report_type", job.Type),
			slog.Any("error", err),
		)
		return job.Handle(), &DeliveryGapError{JobID: job.ID, Err: err}
	}

	telemetry.JobsSubmitted.Inc()
	s.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("report_type", job.Type),
		slog.String("client_id", req.ClientID),
	)
	return job.Handle(), nil
}

// Validate checks the required request fields in order and reports the first one missing
// as a *ValidationError.
func Validate(req models.ReportRequest) error {
	required := []struct {
		field string
		value string
	}{
		{"reportType", req.ReportType},
		{"clientId", req.ClientID},
		{"startDate", req.StartDate},
		{"endDate", req.EndDate},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field}
		}
	}
	return nil
}
