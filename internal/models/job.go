package models

import (
	"time"
)

// Status enumerates job lifecycle states persisted in the record store.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a delivery attempt.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ReportRequest is the client submission and the immutable job input.
type ReportRequest struct {
	ReportType string `json:"reportType"`
	ClientID   string `json:"clientId,omitempty"`
	PlanType   string `json:"planType,omitempty"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
}

// Job is the durable record of one report request and its audit trail.
type Job struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Status       Status        `json:"status"`
	Input        ReportRequest `json:"input"`
	Result       *ReportResult `json:"result"`
	Error        *string       `json:"error"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	AttemptCount int           `json:"attemptCount"`
	LastErrorAt  *time.Time    `json:"lastErrorAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

// Expired reports whether the retention window has elapsed at now.
func (j Job) Expired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && !now.Before(j.ExpiresAt)
}

// Handle returns the client-visible view of the job.
func (j Job) Handle() JobHandle {
	return JobHandle{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		AttemptCount: j.AttemptCount,
		LastErrorAt:  j.LastErrorAt,
	}
}

// JobHandle mirrors the job fields a client may poll. It never echoes the input.
type JobHandle struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Status       Status        `json:"status"`
	Result       *ReportResult `json:"result"`
	Error        *string       `json:"error"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	AttemptCount int           `json:"attemptCount"`
	LastErrorAt  *time.Time    `json:"lastErrorAt"`
}

// QueueMessage is the work-dispatch token carried by the queue.
type QueueMessage struct {
	JobID string        `json:"jobId"`
	Input ReportRequest `json:"input"`
}
