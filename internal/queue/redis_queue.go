package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"report-jobs/internal/models"
)

// RedisQueueOptions tunes lease and redelivery behaviour.
type RedisQueueOptions struct {
	Name              string
	VisibilityTimeout time.Duration
	MaxReceives       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// RedisQueue coordinates ready, in-flight, delayed and dead-letter sets in Redis.
//
// Message bodies live under msg:<id>; the id is what moves between the ready list, the
// in-flight zset (scored by lease deadline) and the delayed zset (scored by retry time).
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	delayedKey    string
	receivesKey   string
	dlqKey        string
	msgPrefix     string
	visibilityTTL time.Duration
	maxReceives   int
	backoffBase   time.Duration
	backoffMax    time.Duration
}

// NewRedisQueue builds a queue over an existing client. The caller owns the client.
func NewRedisQueue(client *redis.Client, opts RedisQueueOptions) *RedisQueue {
	name := opts.Name
	if name == "" {
		name = "report-jobs"
	}
	visibility := opts.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	maxReceives := opts.MaxReceives
	if maxReceives <= 0 {
		maxReceives = 3
	}
	prefix := "queue:" + name + ":"
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + "ready",
		inflightKey:   prefix + "inflight",
		delayedKey:    prefix + "delayed",
		receivesKey:   prefix + "receives",
		dlqKey:        prefix + "dlq",
		msgPrefix:     prefix + "msg:",
		visibilityTTL: visibility,
		maxReceives:   maxReceives,
		backoffBase:   opts.BackoffInitial,
		backoffMax:    opts.BackoffMax,
	}
}

func (q *RedisQueue) msgKey(id string) string {
	return q.msgPrefix + id
}

// Send stores the body and appends its id to the ready list.
func (q *RedisQueue) Send(ctx context.Context, msg models.QueueMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.msgKey(id), body, 0)
	pipe.RPush(ctx, q.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive pops the next ready message and leases it for the visibility timeout. Messages
// already received MaxReceives times are diverted to the dead-letter list on the way.
func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	keys := []string{q.readyKey, q.inflightKey, q.receivesKey, q.dlqKey}
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := receiveScript.Run(ctx, q.client, keys, deadline, q.maxReceives, q.msgPrefix).Slice()
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected receive reply length %d", len(res))
	}
	id, _ := res[0].(string)
	if id == "" {
		return nil, nil
	}
	body, _ := res[1].(string)
	count, _ := res[2].(int64)
	return &Delivery{ID: id, Body: []byte(body), ReceiveCount: int(count)}, nil
}

// Ack drops the message and its bookkeeping. A lease that lapsed may already have put the
// id back on the ready list, so every set that can hold it is cleared with the body.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	keys := []string{q.inflightKey, q.readyKey, q.delayedKey, q.dlqKey, q.receivesKey, q.msgKey(d.ID)}
	if err := ackScript.Run(ctx, q.client, keys, d.ID).Err(); err != nil {
		return fmt.Errorf("ack message %s: %w", d.ID, err)
	}
	return nil
}

// Nack releases the lease and schedules redelivery after a jittered backoff. A lease that
// already lapsed has been reclaimed by Maintain and is left alone.
func (q *RedisQueue) Nack(ctx context.Context, d *Delivery) error {
	retryAt := time.Now().Add(backoffWithJitter(q.backoffBase, q.backoffMax, d.ReceiveCount))
	keys := []string{q.inflightKey, q.delayedKey}
	if err := releaseScript.Run(ctx, q.client, keys, d.ID, retryAt.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("nack message %s: %w", d.ID, err)
	}
	return nil
}

// DeadLetter moves a leased message to the dead-letter list.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery) error {
	keys := []string{q.inflightKey, q.dlqKey}
	if err := deadLetterScript.Run(ctx, q.client, keys, d.ID).Err(); err != nil {
		return fmt.Errorf("dead-letter message %s: %w", d.ID, err)
	}
	return nil
}

// Maintain promotes due retries and reclaims expired leases, at most limit of each.
func (q *RedisQueue) Maintain(ctx context.Context, now time.Time, limit int64) (MaintenanceStats, error) {
	var stats MaintenanceStats
	promoted, err := sweepScript.Run(ctx, q.client, []string{q.delayedKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return stats, fmt.Errorf("promote delayed: %w", err)
	}
	stats.Promoted = promoted
	reclaimed, err := sweepScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return stats, fmt.Errorf("requeue expired: %w", err)
	}
	stats.Reclaimed = reclaimed
	return stats, nil
}

// DeadLetters reads the oldest dead-lettered messages.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.LRange(ctx, q.dlqKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}
	if len(ids) == 0 {
		return []DeadLetter{}, nil
	}

	pipe := q.client.Pipeline()
	bodies := make([]*redis.StringCmd, len(ids))
	counts := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		bodies[i] = pipe.Get(ctx, q.msgKey(id))
		counts[i] = pipe.HGet(ctx, q.receivesKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read dlq bodies: %w", err)
	}

	out := make([]DeadLetter, 0, len(ids))
	for i, id := range ids {
		dl := DeadLetter{ID: id}
		if body, err := bodies[i].Result(); err == nil {
			dl.Body = body
		}
		if n, err := strconv.Atoi(counts[i].Val()); err == nil {
			dl.ReceiveCount = n
		}
		out = append(out, dl)
	}
	return out, nil
}

// ReadyDepth returns the number of messages waiting to be received.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InFlight returns the number of leased messages.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

// Close is a no-op; the client is shared with other components.
func (q *RedisQueue) Close() error {
	return nil
}

var receiveScript = redis.NewScript(`
local max = tonumber(ARGV[2])
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return {'', '', 0}
  end
  local seen = tonumber(redis.call('HGET', KEYS[3], id) or '0')
  if seen >= max then
    redis.call('RPUSH', KEYS[4], id)
  else
    local count = redis.call('HINCRBY', KEYS[3], id, 1)
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    local body = redis.call('GET', ARGV[3] .. id)
    if not body then
      body = ''
    end
    return {id, body, count}
  end
end
`)

var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('LREM', KEYS[4], 0, ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('DEL', KEYS[6])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
  return 1
end
return 0
`)

var deadLetterScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

var sweepScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)
