// Package queue defines the narrow queue contract consumed by the supervisor
// and the inline consumer, with SQS and in-memory implementations.
package queue

import (
	"context"
	"time"
)

// MaxVisibilityTimeout is the SQS upper bound for a visibility extension.
const MaxVisibilityTimeout = 12 * time.Hour

// Message is one received queue message. ReceiveCount is the approximate
// number of times it has been delivered, starting at 1.
type Message struct {
	ReceiptHandle string
	MessageID     string
	Body          []byte
	ReceiveCount  int
}

// Queue is the contract the consumer needs from a durable queue.
type Queue interface {
	// Resolve maps a queue name to its URL. Failures wrap ErrQueueUnavailable.
	Resolve(ctx context.Context, name string) (string, error)
	// Receive long-polls for up to max messages, waiting at most wait.
	Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, queueURL, receipt string) error
	// ExtendVisibility hides the message for d from now.
	ExtendVisibility(ctx context.Context, queueURL, receipt string, d time.Duration) error
}

// VisibilitySeconds rounds d up to whole seconds within SQS limits.
func VisibilitySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxVisibilityTimeout {
		d = MaxVisibilityTimeout
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int32(secs)
}
