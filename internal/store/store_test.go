package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-jobs/internal/models"
)

func newQueuedJob(id string, created time.Time) models.Job {
	return models.Job{
		ID:     id,
		Type:   "PAYROLL",
		Status: models.StatusQueued,
		Input: models.ReportRequest{
			ReportType: "PAYROLL",
			ClientID:   "05184",
			StartDate:  "2025-01-01",
			EndDate:    "2025-06-01",
		},
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: created.Add(7 * 24 * time.Hour),
	}
}

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func stores(t *testing.T) map[string]RecordStore {
	rs, _ := newRedisStore(t)
	out := map[string]RecordStore{
		"memory": NewMemory(),
		"redis":  rs,
	}
	if pg := newPostgresStore(t); pg != nil {
		out["postgres"] = pg
	}
	return out
}

func TestRecordStoreLifecycle(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Now().UTC().Truncate(time.Millisecond)
			job := newQueuedJob("job-1", created)

			require.NoError(t, st.Create(ctx, job))
			assert.ErrorIs(t, st.Create(ctx, job), ErrJobExists)

			got, err := st.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusQueued, got.Status)
			assert.Equal(t, 0, got.AttemptCount)
			assert.Equal(t, job.Input, got.Input)
			assert.Nil(t, got.Result)
			assert.Nil(t, got.Error)
			assert.Nil(t, got.LastErrorAt)
			assert.True(t, got.CreatedAt.Equal(created))
			assert.Equal(t, job.ExpiresAt.Unix(), got.ExpiresAt.Unix())

			runAt := created.Add(time.Second)
			n, err := st.MarkRunning(ctx, job.ID, runAt)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			failAt := created.Add(2 * time.Second)
			require.NoError(t, st.MarkFailed(ctx, job.ID, "boom", failAt))
			got, err = st.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Equal(t, "boom", *got.Error)
			require.NotNil(t, got.LastErrorAt)
			assert.True(t, got.LastErrorAt.Equal(failAt))
			assert.True(t, got.UpdatedAt.Equal(failAt))

			n, err = st.MarkRunning(ctx, job.ID, created.Add(3*time.Second))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			result := models.ReportResult{
				FiltersApplied: models.FiltersApplied{StartDate: "2025-01-01", EndDate: "2025-06-01"},
				ResultCount:    0,
				Reports:        []models.ReportItem{},
				GeneratedAt:    created.Add(4 * time.Second),
			}
			require.NoError(t, st.MarkSucceeded(ctx, job.ID, result, created.Add(4*time.Second)))

			got, err = st.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSucceeded, got.Status)
			assert.Equal(t, 2, got.AttemptCount)
			require.NotNil(t, got.Result)
			assert.Equal(t, 0, got.Result.ResultCount)
			require.NotNil(t, got.Error, "error from the failed attempt is retained")
			assert.Equal(t, "boom", *got.Error)
		})
	}
}

func TestRecordStoreMissingJob(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			_, err := st.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrJobNotFound)
			_, err = st.MarkRunning(ctx, "nope", now)
			assert.ErrorIs(t, err, ErrJobNotFound)
			assert.ErrorIs(t, st.MarkFailed(ctx, "nope", "x", now), ErrJobNotFound)
			assert.ErrorIs(t, st.MarkSucceeded(ctx, "nope", models.ReportResult{}, now), ErrJobNotFound)

			_, err = st.Get(ctx, "nope")
			assert.True(t, errors.Is(err, ErrJobNotFound), "updates must not create records")
		})
	}
}

func TestRecordStoreConcurrentIncrements(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.Create(ctx, newQueuedJob("job-c", time.Now().UTC())))

			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.MarkRunning(ctx, "job-c", time.Now())
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := st.Get(ctx, "job-c")
			require.NoError(t, err)
			assert.Equal(t, workers, got.AttemptCount)
		})
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	st, mr := newRedisStore(t)
	ctx := context.Background()
	job := newQueuedJob("job-ttl", time.Now().UTC())
	require.NoError(t, st.Create(ctx, job))

	ttl := mr.TTL(jobKey(job.ID))
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), ttl.Seconds(), 5)

	mr.FastForward(8 * 24 * time.Hour)

	_, err := st.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = st.MarkRunning(ctx, job.ID, time.Now())
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.False(t, mr.Exists(jobKey(job.ID)))
}

func TestRedisStoreSchema(t *testing.T) {
	st, mr := newRedisStore(t)
	ctx := context.Background()
	job := newQueuedJob("job-schema", time.Now().UTC())
	require.NoError(t, st.Create(ctx, job))

	assert.Equal(t, "job-schema", mr.HGet(jobKey(job.ID), "jobId"))
	assert.Equal(t, "job-schema", mr.HGet(jobKey(job.ID), "id"))
	assert.Equal(t, "QUEUED", mr.HGet(jobKey(job.ID), "status"))
	assert.Equal(t, "0", mr.HGet(jobKey(job.ID), "attemptCount"))
	assert.JSONEq(t, `{"reportType":"PAYROLL","clientId":"05184","startDate":"2025-01-01","endDate":"2025-06-01"}`,
		mr.HGet(jobKey(job.ID), "input"))
}

func TestMemoryExpiryAndPurge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	st := NewMemoryWithClock(func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, newQueuedJob("old", now)))
	require.NoError(t, st.Create(ctx, newQueuedJob("new", now.Add(24*time.Hour))))

	clock = now.Add(7*24*time.Hour + time.Minute)
	_, err := st.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = st.Get(ctx, "new")
	assert.NoError(t, err)

	n, err := st.PurgeExpired(ctx, clock)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
