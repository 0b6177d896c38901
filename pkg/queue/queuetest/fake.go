// Package queuetest provides an in-memory Queue implementation with real
// lease semantics for conductor tests.
package queuetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coredb-io/conductor/pkg/queue"
)

// FailureConfig configures when the fake queue should return errors. Each
// field receives the queue name and returns an error if the operation should
// fail.
type FailureConfig struct {
	// OnSend is called before Send operations.
	OnSend func(queue string) error

	// OnRead is called before Read operations.
	OnRead func(queue string) error

	// OnArchive is called before Archive operations.
	OnArchive func(queue string) error
}

type fakeMessage struct {
	id         int64
	readCount  int64
	enqueuedAt time.Time
	visibleAt  time.Time
	payload    []byte
}

// Fake is an in-memory queue with visibility timeouts. The clock is
// injectable so tests can expire leases without sleeping.
type Fake struct {
	mu       sync.Mutex
	queues   map[string][]*fakeMessage
	archived map[string][][]byte
	nextID   int64
	now      func() time.Time
	failures FailureConfig
}

// NewFake creates an empty fake queue backend.
func NewFake() *Fake {
	return &Fake{
		queues:   map[string][]*fakeMessage{},
		archived: map[string][][]byte{},
		now:      time.Now,
	}
}

// NewFakeWithFailures creates a fake whose operations can be made to fail.
func NewFakeWithFailures(config FailureConfig) *Fake {
	f := NewFake()
	f.failures = config
	return f
}

var _ queue.Queue = (*Fake)(nil)

// SetClock replaces the fake's time source.
func (f *Fake) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Create registers the named queue.
func (f *Fake) Create(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; !ok {
		f.queues[name] = nil
	}
	return nil
}

// Send enqueues payload as JSON.
func (f *Fake) Send(_ context.Context, name string, payload any) (int64, error) {
	if f.failures.OnSend != nil {
		if err := f.failures.OnSend(name); err != nil {
			return 0, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message for queue %q: %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := f.now()
	f.queues[name] = append(f.queues[name], &fakeMessage{
		id:         f.nextID,
		enqueuedAt: now,
		visibleAt:  now,
		payload:    body,
	})
	return f.nextID, nil
}

// SendRaw enqueues pre-marshaled bytes, bypassing JSON marshaling. Tests use
// it to inject malformed payloads.
func (f *Fake) SendRaw(name string, body []byte) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	now := f.now()
	f.queues[name] = append(f.queues[name], &fakeMessage{
		id:         f.nextID,
		enqueuedAt: now,
		visibleAt:  now,
		payload:    append([]byte(nil), body...),
	})
	return f.nextID
}

// Read leases the oldest visible message.
func (f *Fake) Read(_ context.Context, name string, visibilityTimeout time.Duration) (*queue.Message, error) {
	if f.failures.OnRead != nil {
		if err := f.failures.OnRead(name); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for _, m := range f.queues[name] {
		if m.visibleAt.After(now) {
			continue
		}
		m.readCount++
		m.visibleAt = now.Add(visibilityTimeout)
		return &queue.Message{
			ID:         m.id,
			ReadCount:  m.readCount,
			EnqueuedAt: m.enqueuedAt,
			Payload:    append([]byte(nil), m.payload...),
		}, nil
	}
	return nil, nil
}

// Archive acks a message and remembers its payload for assertions.
func (f *Fake) Archive(_ context.Context, name string, msgID int64) error {
	if f.failures.OnArchive != nil {
		if err := f.failures.OnArchive(name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.remove(name, msgID); m != nil {
		f.archived[name] = append(f.archived[name], m.payload)
	}
	return nil
}

func (f *Fake) remove(name string, msgID int64) *fakeMessage {
	msgs := f.queues[name]
	for i, m := range msgs {
		if m.id == msgID {
			f.queues[name] = append(msgs[:i], msgs[i+1:]...)
			return m
		}
	}
	return nil
}

// Pending reports how many messages remain in the queue, leased or not.
func (f *Fake) Pending(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[name])
}

// Archived returns the payloads acked via Archive, oldest first.
func (f *Fake) Archived(name string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.archived[name]))
	copy(out, f.archived[name])
	return out
}

// Messages returns a snapshot of the payloads currently in the queue, oldest
// first, regardless of lease state.
func (f *Fake) Messages(name string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.queues[name]))
	for _, m := range f.queues[name] {
		out = append(out, append([]byte(nil), m.payload...))
	}
	return out
}

// ExpireLeases makes every leased message immediately visible again,
// simulating visibility-timeout expiry without advancing the clock.
func (f *Fake) ExpireLeases(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for _, m := range f.queues[name] {
		if m.visibleAt.After(now) {
			m.visibleAt = now
		}
	}
}
