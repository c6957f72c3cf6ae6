package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"report-jobs/internal/models"
)

const jobKeyPrefix = "report:job:"

// Redis keeps each job as a hash keyed by id. Expiry is delegated to EXPIREAT, so the
// record vanishes on its own once expiresAt passes.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (r *Redis) Create(ctx context.Context, job models.Job) error {
	fields, err := encodeJob(job)
	if err != nil {
		return err
	}
	args := make([]any, 0, len(fields)+1)
	args = append(args, job.ExpiresAt.Unix())
	args = append(args, fields...)

	created, err := createScript.Run(ctx, r.client, []string{jobKey(job.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return ErrJobExists
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (models.Job, error) {
	fields, err := r.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return models.Job{}, ErrJobNotFound
	}
	return decodeJob(fields)
}

func (r *Redis) MarkRunning(ctx context.Context, id string, at time.Time) (int, error) {
	n, err := markRunningScript.Run(ctx, r.client, []string{jobKey(id)},
		string(models.StatusRunning), formatTime(at)).Int()
	if err != nil {
		return 0, fmt.Errorf("mark running: %w", err)
	}
	if n < 0 {
		return 0, ErrJobNotFound
	}
	return n, nil
}

func (r *Redis) MarkSucceeded(ctx context.Context, id string, result models.ReportResult, at time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return r.update(ctx, id,
		"status", string(models.StatusSucceeded),
		"result", string(raw),
		"updatedAt", formatTime(at),
	)
}

func (r *Redis) MarkFailed(ctx context.Context, id string, message string, at time.Time) error {
	ts := formatTime(at)
	return r.update(ctx, id,
		"status", string(models.StatusFailed),
		"error", message,
		"lastErrorAt", ts,
		"updatedAt", ts,
	)
}

// update applies HSET only when the key still exists; a plain HSET would resurrect an
// expired record without its TTL.
func (r *Redis) update(ctx context.Context, id string, fieldValues ...any) error {
	n, err := updateScript.Run(ctx, r.client, []string{jobKey(id)}, fieldValues...).Int()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func encodeJob(job models.Job) ([]any, error) {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	fields := []any{
		"jobId", job.ID,
		"id", job.ID,
		"type", job.Type,
		"status", string(job.Status),
		"input", string(input),
		"createdAt", formatTime(job.CreatedAt),
		"updatedAt", formatTime(job.UpdatedAt),
		"attemptCount", job.AttemptCount,
		"expiresAt", job.ExpiresAt.Unix(),
	}
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		fields = append(fields, "result", string(raw))
	}
	if job.Error != nil {
		fields = append(fields, "error", *job.Error)
	}
	if job.LastErrorAt != nil {
		fields = append(fields, "lastErrorAt", formatTime(*job.LastErrorAt))
	}
	return fields, nil
}

func decodeJob(f map[string]string) (models.Job, error) {
	job := models.Job{
		ID:     f["jobId"],
		Type:   f["type"],
		Status: models.Status(f["status"]),
	}
	if err := json.Unmarshal([]byte(f["input"]), &job.Input); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if raw, ok := f["result"]; ok {
		var res models.ReportResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &res
	}
	if msg, ok := f["error"]; ok {
		job.Error = &msg
	}
	var err error
	if job.CreatedAt, err = parseTime(f["createdAt"]); err != nil {
		return models.Job{}, err
	}
	if job.UpdatedAt, err = parseTime(f["updatedAt"]); err != nil {
		return models.Job{}, err
	}
	if raw, ok := f["lastErrorAt"]; ok {
		at, err := parseTime(raw)
		if err != nil {
			return models.Job{}, err
		}
		job.LastErrorAt = &at
	}
	if job.AttemptCount, err = strconv.Atoi(f["attemptCount"]); err != nil {
		return models.Job{}, fmt.Errorf("parse attemptCount: %w", err)
	}
	expires, err := strconv.ParseInt(f["expiresAt"], 10, 64)
	if err != nil {
		return models.Job{}, fmt.Errorf("parse expiresAt: %w", err)
	}
	job.ExpiresAt = time.Unix(expires, 0).UTC()
	return job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('EXPIREAT', KEYS[1], ARGV[1])
return 1
`)

var markRunningScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updatedAt', ARGV[2])
return redis.call('HINCRBY', KEYS[1], 'attemptCount', 1)
`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)
