package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"report-jobs/internal/models"
	"report-jobs/internal/queue"
	"report-jobs/internal/store"
)

var errBrokerDown = errors.New("broker unavailable")

type recordingQueue struct {
	mu      sync.Mutex
	sent    []models.QueueMessage
	sendErr error
}

func (q *recordingQueue) Send(_ context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sent = append(q.sent, msg)
	return nil
}

func (q *recordingQueue) Receive(context.Context) (*queue.Delivery, error) { return nil, nil }
func (q *recordingQueue) Ack(context.Context, *queue.Delivery) error        { return nil }
func (q *recordingQueue) Nack(context.Context, *queue.Delivery) error       { return nil }
func (q *recordingQueue) DeadLetter(context.Context, *queue.Delivery) error { return nil }
func (q *recordingQueue) Close() error                                      { return nil }

func (q *recordingQueue) messages() []models.QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.QueueMessage(nil), q.sent...)
}

// brokenStore fails selected operations and delegates the rest.
type brokenStore struct {
	store.RecordStore
	createErr    error
	runningErr   error
	succeededErr error
}

func (s *brokenStore) Create(ctx context.Context, job models.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.RecordStore.Create(ctx, job)
}

func (s *brokenStore) MarkRunning(ctx context.Context, id string, at time.Time) (int, error) {
	if s.runningErr != nil {
		return 0, s.runningErr
	}
	return s.RecordStore.MarkRunning(ctx, id, at)
}

func (s *brokenStore) MarkSucceeded(ctx context.Context, id string, result models.ReportResult, at time.Time) error {
	if s.succeededErr != nil {
		return s.succeededErr
	}
	return s.RecordStore.MarkSucceeded(ctx, id, result, at)
}

// flakyCorpus serves a malformed entry on its first read, then the real entries.
type flakyCorpus struct {
	mu    sync.Mutex
	reads int
	good  []models.CorpusEntry
}

func (c *flakyCorpus) Entries() []models.CorpusEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.reads == 1 {
		return []models.CorpusEntry{{ClientID: "05184", CoverageStartDate: "garbage", CoverageEndDate: "2025-06-01"}}
	}
	return c.good
}
