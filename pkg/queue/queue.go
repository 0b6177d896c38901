// Package queue is a thin client for pgmq, the Postgres-backed message queue
// both conductor queues live on.
//
// The queue is competing-consumers with lease semantics: a read makes the
// message invisible to other consumers for a visibility timeout, and only an
// archive (ack) removes it for good. A consumer that crashes mid-message
// simply lets the lease expire and the message reappears. That property is
// load-bearing for the conductor: a lifecycle event is never lost between
// being read and being durably acted on.
package queue

import (
	"context"
	"time"
)

// Message is one leased queue entry.
type Message struct {
	// ID is the queue-assigned message identifier.
	ID int64

	// ReadCount is the number of times this message has been leased,
	// including the current lease. Redeliveries show up as ReadCount > 1.
	ReadCount int64

	// EnqueuedAt is when the producer sent the message.
	EnqueuedAt time.Time

	// Payload is the raw JSON message body.
	Payload []byte
}

// Queue is the operation set the conductor needs from a message queue.
// *PGMQ implements it against Postgres; queuetest.Fake implements it
// in-memory for tests.
type Queue interface {
	// Create creates the named queue if it does not exist.
	Create(ctx context.Context, queue string) error

	// Send enqueues payload (marshaled to JSON) and returns the message id.
	Send(ctx context.Context, queue string, payload any) (int64, error)

	// Read leases the next visible message for the visibility timeout.
	// Returns (nil, nil) when the queue has no visible messages.
	Read(ctx context.Context, queue string, visibilityTimeout time.Duration) (*Message, error)

	// Archive acks a message: it is removed from the active queue but kept
	// in the queue's archive table for auditing. Archiving is the only ack
	// the conductor performs, so every processed message stays auditable.
	Archive(ctx context.Context, queue string, msgID int64) error
}
