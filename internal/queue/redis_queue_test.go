package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-jobs/internal/models"
)

func newTestQueue(t *testing.T, opts RedisQueueOptions) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, opts)
}

func sampleMessage(id string) models.QueueMessage {
	return models.QueueMessage{
		JobID: id,
		Input: models.ReportRequest{ReportType: "PAYROLL", ClientID: "05389", StartDate: "2025-01-01", EndDate: "2025-06-01"},
	}
}

func TestRedisQueueSendReceiveAck(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t"})
	ctx := context.Background()

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "empty queue yields no delivery")

	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))
	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	d, err = q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.ReceiveCount)

	msg, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, sampleMessage("job-1"), msg)

	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inflight)

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "leased message is invisible")

	require.NoError(t, q.Ack(ctx, d))
	inflight, err = q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)

	stats, err := q.Maintain(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, MaintenanceStats{}, stats, "acked message never comes back")
}

func TestRedisQueueVisibilityTimeoutRedelivers(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t", VisibilityTimeout: time.Second})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	stats, err := q.Maintain(ctx, time.Now().Add(2*time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Reclaimed)

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)
}

func TestRedisQueueAckAfterLeaseLapsed(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t", VisibilityTimeout: time.Second})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	stats, err := q.Maintain(ctx, time.Now().Add(2*time.Second), 100)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Reclaimed)

	require.NoError(t, q.Ack(ctx, d))

	next, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "acked message is not redelivered without a body")

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestRedisQueueAckClearsRetrySchedule(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t", VisibilityTimeout: time.Second, BackoffInitial: time.Second})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	_, err = q.Maintain(ctx, time.Now().Add(2*time.Second), 100)
	require.NoError(t, err)

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NoError(t, q.Nack(ctx, second))

	// The first holder finishes late; the scheduled retry is cancelled with it.
	require.NoError(t, q.Ack(ctx, first))
	stats, err := q.Maintain(ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, MaintenanceStats{}, stats)

	next, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRedisQueueNackSchedulesRetry(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t", BackoffInitial: time.Second, BackoffMax: 4 * time.Second})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, q.Nack(ctx, d))

	next, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, next, "nacked message waits out its backoff")

	stats, err := q.Maintain(ctx, time.Now().Add(5*time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Promoted)
	assert.Zero(t, stats.Reclaimed)

	next, err = q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, 2, next.ReceiveCount)
}

func TestRedisQueueRedrivesAfterMaxReceives(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t", MaxReceives: 2})
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, sampleMessage("job-1")))

	for i := 1; i <= 2; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, i, d.ReceiveCount)
		require.NoError(t, q.Nack(ctx, d))
		_, err = q.Maintain(ctx, time.Now().Add(time.Hour), 100)
		require.NoError(t, err)
	}

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Nil(t, d, "third receive diverts to the dead-letter list")

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].ReceiveCount)
	assert.JSONEq(t, `{"jobId":"job-1","input":{"reportType":"PAYROLL","clientId":"05389","startDate":"2025-01-01","endDate":"2025-06-01"}}`, string(dead[0].Body))
}

func TestRedisQueueDeadLetterMalformed(t *testing.T) {
	q := newTestQueue(t, RedisQueueOptions{Name: "t"})
	ctx := context.Background()
	require.NoError(t, q.client.Set(ctx, q.msgKey("raw"), "not json", 0).Err())
	require.NoError(t, q.client.RPush(ctx, q.readyKey, "raw").Err())

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	_, err = d.Decode()
	require.Error(t, err)

	require.NoError(t, q.DeadLetter(ctx, d))
	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inflight)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "raw", dead[0].ID)
}

func TestDecodeRejectsMissingJobID(t *testing.T) {
	d := &Delivery{Body: []byte(`{"input":{}}`)}
	_, err := d.Decode()
	assert.Error(t, err)
}

func TestDeliveryCountHeader(t *testing.T) {
	assert.Equal(t, 0, deliveryCount(nil))
	assert.Equal(t, 2, deliveryCount(amqp.Table{"x-delivery-count": int64(2)}))
	assert.Equal(t, 1, deliveryCount(amqp.Table{"x-delivery-count": int32(1)}))
}
