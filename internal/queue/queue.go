// Package queue carries job dispatch messages with at-least-once delivery. A received
// message stays invisible until it is acked, nacked, or its visibility window lapses;
// after too many receives the queue routes it to a dead-letter store on its own.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"report-jobs/internal/models"
)

// Delivery is one receipt of a message.
type Delivery struct {
	ID           string
	Body         []byte
	ReceiveCount int

	tag uint64
}

// Decode parses the delivery body as a QueueMessage.
func (d *Delivery) Decode() (models.QueueMessage, error) {
	var msg models.QueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return models.QueueMessage{}, fmt.Errorf("decode queue message: %w", err)
	}
	if msg.JobID == "" {
		return models.QueueMessage{}, fmt.Errorf("decode queue message: missing jobId")
	}
	return msg, nil
}

// MessageQueue is the dispatch channel between the submitter and the worker.
type MessageQueue interface {
	Send(ctx context.Context, msg models.QueueMessage) error
	// Receive returns the next visible message, or nil when none is available.
	Receive(ctx context.Context) (*Delivery, error)
	// Ack removes the message permanently.
	Ack(ctx context.Context, d *Delivery) error
	// Nack hands the message back for redelivery; the receive count keeps advancing.
	Nack(ctx context.Context, d *Delivery) error
	// DeadLetter routes the message straight to the dead-letter store.
	DeadLetter(ctx context.Context, d *Delivery) error
	Close() error
}

// MaintenanceStats reports what a maintenance pass moved.
type MaintenanceStats struct {
	Promoted  int
	Reclaimed int
}

// Maintainer is implemented by queues that need a periodic sweep to return expired leases
// and delayed retries to the ready list.
type Maintainer interface {
	Maintain(ctx context.Context, now time.Time, limit int64) (MaintenanceStats, error)
}

// DeadLetter is a message that exhausted its receive budget.
type DeadLetter struct {
	ID           string `json:"id"`
	ReceiveCount int    `json:"receiveCount"`
	// Body is the raw message as received; it may not be valid JSON.
	Body string `json:"body"`
}

// DeadLetterReader lists dead-lettered messages for operators.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error)
}

func encode(msg models.QueueMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode queue message: %w", err)
	}
	return body, nil
}
