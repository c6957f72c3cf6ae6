package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"report-jobs/internal/models"
)

// Postgres wraps pgxpool for job record persistence. Rows past expires_at are invisible to
// reads and updates and are removed by PurgeExpired.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) Create(ctx context.Context, job models.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var result []byte
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO report_jobs (job_id, type, status, input, result, error, created_at, updated_at, attempt_count, last_error_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, job.Type, string(job.Status), input, result, job.Error, job.CreatedAt, job.UpdatedAt, job.AttemptCount, job.LastErrorAt, job.ExpiresAt.Unix())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrJobExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, type, status, input, result, error, created_at, updated_at, attempt_count, last_error_at, expires_at
		FROM report_jobs WHERE job_id = $1 AND expires_at > $2
	`, id, time.Now().Unix())

	var (
		job         models.Job
		status      string
		input       []byte
		result      []byte
		errMsg      pgtype.Text
		lastErrorAt pgtype.Timestamptz
		expiresAt   int64
	)
	if err := row.Scan(&job.ID, &job.Type, &status, &input, &result, &errMsg, &job.CreatedAt, &job.UpdatedAt, &job.AttemptCount, &lastErrorAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrJobNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = models.Status(status)
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if len(result) > 0 {
		var res models.ReportResult
		if err := json.Unmarshal(result, &res); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &res
	}
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if lastErrorAt.Valid {
		at := lastErrorAt.Time
		job.LastErrorAt = &at
	}
	job.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return job, nil
}

func (s *Postgres) MarkRunning(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE report_jobs
		SET status = $2, updated_at = $3, attempt_count = attempt_count + 1
		WHERE job_id = $1 AND expires_at > $4
		RETURNING attempt_count
	`, id, string(models.StatusRunning), at, time.Now().Unix()).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("mark running: %w", err)
	}
	return attempts, nil
}

func (s *Postgres) MarkSucceeded(ctx context.Context, id string, result models.ReportResult, at time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return s.exec(ctx, `
		UPDATE report_jobs SET status = $2, result = $3, updated_at = $4
		WHERE job_id = $1 AND expires_at > $5
	`, id, string(models.StatusSucceeded), raw, at, time.Now().Unix())
}

func (s *Postgres) MarkFailed(ctx context.Context, id string, message string, at time.Time) error {
	return s.exec(ctx, `
		UPDATE report_jobs SET status = $2, error = $3, last_error_at = $4, updated_at = $4
		WHERE job_id = $1 AND expires_at > $5
	`, id, string(models.StatusFailed), message, at, time.Now().Unix())
}

// PurgeExpired deletes rows whose retention window has elapsed.
func (s *Postgres) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM report_jobs WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
