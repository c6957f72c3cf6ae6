package store

import (
	"context"
	"sync"
	"time"

	"report-jobs/internal/models"
)

// Memory is an in-process RecordStore for tests and single-process development.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]models.Job
	now  func() time.Time
}

// NewMemory returns an empty store that evaluates expiry against the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns an empty store that evaluates expiry against now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{jobs: make(map[string]models.Job), now: now}
}

func (m *Memory) Create(_ context.Context, job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[job.ID]; ok && !existing.Expired(m.now()) {
		return ErrJobExists
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	return cloneJob(job), nil
}

func (m *Memory) MarkRunning(_ context.Context, id string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	job.Status = models.StatusRunning
	job.UpdatedAt = at
	job.AttemptCount++
	m.jobs[id] = job
	return job.AttemptCount, nil
}

func (m *Memory) MarkSucceeded(_ context.Context, id string, result models.ReportResult, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.lookup(id)
	if err != nil {
		return err
	}
	job.Status = models.StatusSucceeded
	job.Result = &result
	job.UpdatedAt = at
	m.jobs[id] = job
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.lookup(id)
	if err != nil {
		return err
	}
	job.Status = models.StatusFailed
	job.Error = &message
	job.LastErrorAt = &at
	job.UpdatedAt = at
	m.jobs[id] = job
	return nil
}

// PurgeExpired drops records whose retention window has elapsed.
func (m *Memory) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, job := range m.jobs {
		if job.Expired(now) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// lookup must be called with mu held.
func (m *Memory) lookup(id string) (models.Job, error) {
	job, ok := m.jobs[id]
	if !ok || job.Expired(m.now()) {
		return models.Job{}, ErrJobNotFound
	}
	return job, nil
}

func cloneJob(j models.Job) models.Job {
	if j.Error != nil {
		msg := *j.Error
		j.Error = &msg
	}
	if j.LastErrorAt != nil {
		at := *j.LastErrorAt
		j.LastErrorAt = &at
	}
	if j.Result != nil {
		res := *j.Result
		res.Reports = make([]models.ReportItem, len(j.Result.Reports))
		copy(res.Reports, j.Result.Reports)
		j.Result = &res
	}
	return j
}
