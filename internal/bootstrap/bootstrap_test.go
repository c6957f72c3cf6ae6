package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-jobs/internal/config"
	"report-jobs/internal/logging"
	"report-jobs/internal/queue"
	"report-jobs/internal/store"
)

func TestOpenRedisBackends(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.Config{RecordStore: "redis", QueueBackend: "redis", QueueName: "boot", RedisAddr: mr.Addr()}
	d, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer d.Close()

	assert.NotNil(t, d.Redis)
	assert.IsType(t, &store.Redis{}, d.Store)
	assert.IsType(t, &queue.RedisQueue{}, d.Queue)
	assert.Nil(t, d.Purger(), "redis expires records itself")
}

func TestOpenRejectsMemoryStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := config.Config{RecordStore: "memory", QueueBackend: "redis", RedisAddr: mr.Addr()}
	d, err := Open(context.Background(), cfg, logging.Discard())
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "cannot be shared")
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.Config{RecordStore: "dynamo", QueueBackend: "redis", RedisAddr: "127.0.0.1:1"}, logging.Discard())
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	_, err = Open(context.Background(), config.Config{RecordStore: "redis", QueueBackend: "sqs", RedisAddr: mr.Addr()}, logging.Discard())
	assert.ErrorContains(t, err, "unknown queue backend")
}

func TestCorpus(t *testing.T) {
	c, err := Corpus(config.Config{})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 4)

	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`entries:
  - clientId: "1"
    planType: HSA
    coverageStartDate: "2025-01-01"
    coverageEndDate: "2025-02-01"
    summary:
      totalEnrollments: 1
      totalDeductions: "10.00"
`), 0o644))
	c, err = Corpus(config.Config{CorpusFile: path})
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = Corpus(config.Config{CorpusFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
