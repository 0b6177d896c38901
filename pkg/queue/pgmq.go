package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGMQ talks to the pgmq extension through a pgx connection pool.
type PGMQ struct {
	pool *pgxpool.Pool
}

// NewPGMQ connects to Postgres and verifies the connection. The pool is
// shared by all conductor workers; pgxpool is safe for concurrent use.
func NewPGMQ(ctx context.Context, connURL string) (*PGMQ, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping queue database: %w", err)
	}
	return &PGMQ{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (q *PGMQ) Close() {
	q.pool.Close()
}

// Create creates the named queue if it does not exist. pgmq.create is
// idempotent, so racing replicas at startup are harmless.
func (q *PGMQ) Create(ctx context.Context, queue string) error {
	if _, err := q.pool.Exec(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("failed to create queue %q: %w", queue, err)
	}
	return nil
}

// Send enqueues payload as JSON and returns the assigned message id.
func (q *PGMQ) Send(ctx context.Context, queue string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message for queue %q: %w", queue, err)
	}

	var msgID int64
	err = q.pool.QueryRow(ctx,
		"SELECT * FROM pgmq.send($1, $2::jsonb)",
		queue, string(body),
	).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("failed to send on queue %q: %w", queue, err)
	}
	return msgID, nil
}

// Read leases the next visible message. The visibility timeout is rounded up
// to whole seconds (pgmq's granularity). Returns (nil, nil) on an empty
// queue.
func (q *PGMQ) Read(ctx context.Context, queue string, visibilityTimeout time.Duration) (*Message, error) {
	vt := int64(visibilityTimeout / time.Second)
	if visibilityTimeout%time.Second != 0 {
		vt++
	}

	var msg Message
	err := q.pool.QueryRow(ctx,
		"SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read($1, $2, 1)",
		queue, vt,
	).Scan(&msg.ID, &msg.ReadCount, &msg.EnqueuedAt, &msg.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from queue %q: %w", queue, err)
	}
	return &msg, nil
}

// Archive acks a message, moving it to the queue's archive table.
func (q *PGMQ) Archive(ctx context.Context, queue string, msgID int64) error {
	var archived bool
	err := q.pool.QueryRow(ctx,
		"SELECT pgmq.archive($1, $2::bigint)",
		queue, msgID,
	).Scan(&archived)
	if err != nil {
		return fmt.Errorf("failed to archive message %d on queue %q: %w", msgID, queue, err)
	}
	// archived == false means the message was already gone, which is fine:
	// the ack raced a duplicate consumer and exactly one of them won.
	return nil
}
