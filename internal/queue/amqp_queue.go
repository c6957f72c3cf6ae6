package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"report-jobs/internal/models"
)

// AMQPQueueOptions configures the RabbitMQ backend.
type AMQPQueueOptions struct {
	URL         string
	Name        string
	MaxReceives int
	Prefetch    int
	// PollWait bounds how long Receive blocks before reporting an empty queue.
	PollWait time.Duration
}

// AMQPQueue is a MessageQueue on a RabbitMQ quorum queue. The broker tracks delivery counts
// and dead-letters through <name>.dlx once the delivery limit is exceeded.
type AMQPQueue struct {
	conn       *amqp.Connection
	pubCh      *amqp.Channel
	consCh     *amqp.Channel
	deliveries <-chan amqp.Delivery
	name       string
	pollWait   time.Duration
	logger     *slog.Logger
	pubMu      sync.Mutex
}

// NewAMQPQueue dials the broker, declares the topology and starts a consumer.
func NewAMQPQueue(opts AMQPQueueOptions, logger *slog.Logger) (*AMQPQueue, error) {
	if opts.Name == "" {
		opts.Name = "report-jobs"
	}
	if opts.MaxReceives <= 0 {
		opts.MaxReceives = 3
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.PollWait <= 0 {
		opts.PollWait = time.Second
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	q := &AMQPQueue{conn: conn, name: opts.Name, pollWait: opts.PollWait, logger: logger}
	if err := q.setup(opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info("rabbitmq queue ready",
		slog.String("queue", opts.Name),
		slog.Int("max_receives", opts.MaxReceives),
		slog.Int("prefetch", opts.Prefetch),
	)
	return q, nil
}

func (q *AMQPQueue) setup(opts AMQPQueueOptions) error {
	var err error
	if q.pubCh, err = q.conn.Channel(); err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if q.consCh, err = q.conn.Channel(); err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}

	dlx := opts.Name + ".dlx"
	dlq := opts.Name + ".dlq"
	if err := q.consCh.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := q.consCh.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := q.consCh.QueueBind(dlq, "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	// x-delivery-limit counts redeliveries, so the first delivery is free.
	args := amqp.Table{
		"x-queue-type":           "quorum",
		"x-delivery-limit":       int64(opts.MaxReceives - 1),
		"x-dead-letter-exchange": dlx,
	}
	if _, err := q.consCh.QueueDeclare(opts.Name, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := q.consCh.Qos(opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	q.deliveries, err = q.consCh.Consume(opts.Name, "report-worker-"+uuid.NewString()[:8], false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	return nil
}

// Send publishes a persistent message to the queue.
func (q *AMQPQueue) Send(ctx context.Context, msg models.QueueMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pubCh.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Receive waits up to PollWait for the next delivery.
func (q *AMQPQueue) Receive(ctx context.Context) (*Delivery, error) {
	timer := time.NewTimer(q.pollWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, fmt.Errorf("rabbitmq delivery channel closed")
		}
		return &Delivery{
			ID:           d.MessageId,
			Body:         d.Body,
			ReceiveCount: deliveryCount(d.Headers) + 1,
			tag:          d.DeliveryTag,
		}, nil
	}
}

func deliveryCount(h amqp.Table) int {
	switch v := h["x-delivery-count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *AMQPQueue) Ack(_ context.Context, d *Delivery) error {
	if err := q.consCh.Ack(d.tag, false); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// Nack requeues the message. The broker enforces the delivery limit.
func (q *AMQPQueue) Nack(_ context.Context, d *Delivery) error {
	if err := q.consCh.Nack(d.tag, false, true); err != nil {
		return fmt.Errorf("nack message: %w", err)
	}
	return nil
}

// DeadLetter rejects without requeue so the broker routes the message to the dead-letter exchange.
func (q *AMQPQueue) DeadLetter(_ context.Context, d *Delivery) error {
	if err := q.consCh.Reject(d.tag, false); err != nil {
		return fmt.Errorf("reject message: %w", err)
	}
	return nil
}

func (q *AMQPQueue) Close() error {
	if q.consCh != nil {
		_ = q.consCh.Close()
	}
	if q.pubCh != nil {
		_ = q.pubCh.Close()
	}
	if err := q.conn.Close(); err != nil {
		q.logger.Error("close rabbitmq connection", slog.Any("error", err))
		return err
	}
	return nil
}
