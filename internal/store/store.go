// Package store persists job records. Every mutation is a single-key update so
// concurrent workers never need a lock; attempt counts are applied as deltas.
package store

import (
	"context"
	"errors"
	"time"

	"report-jobs/internal/models"
)

var (
	// ErrJobNotFound is returned when a record does not exist or has passed its expiry.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when Create is called twice for the same id.
	ErrJobExists = errors.New("job already exists")
)

// RecordStore is the durable job record contract used by the submitter and the worker.
type RecordStore interface {
	// Create writes a new record; it fails with ErrJobExists if the id is taken.
	Create(ctx context.Context, job models.Job) error
	// Get returns the record, or ErrJobNotFound if it is missing or expired.
	Get(ctx context.Context, id string) (models.Job, error)
	// MarkRunning sets RUNNING, refreshes updatedAt and adds one to attemptCount.
	// It returns the attempt count after the increment.
	MarkRunning(ctx context.Context, id string, at time.Time) (int, error)
	// MarkSucceeded sets SUCCEEDED and the result. The error field is left as is.
	MarkSucceeded(ctx context.Context, id string, result models.ReportResult, at time.Time) error
	// MarkFailed sets FAILED, the error message and lastErrorAt.
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error
}

// Purger is implemented by stores whose expiry needs an explicit sweep.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
