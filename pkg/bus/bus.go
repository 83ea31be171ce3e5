// Package bus is the in-process event queue between event producers (webhook
// ingress, the poller, internal session-completion hooks) and the governor
// loop. Delivery is at-least-once: an envelope stays pending from Next until
// Ack, and Nack or RequeuePending puts it back at the head of the queue.
package bus

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// ErrBusClosed is returned once Close has been called.
var ErrBusClosed = errors.New("event bus closed")

// Bus is a FIFO queue of event envelopes with explicit acknowledgement.
// Publishers and the consumer may run on any goroutine.
type Bus struct {
	mu      sync.Mutex
	queue   []*models.EventEnvelope
	pending map[string]pendingEntry
	seq     uint64
	notify  chan struct{}
	done    chan struct{}
}

// pendingEntry remembers delivery order so redelivery keeps it.
type pendingEntry struct {
	env *models.EventEnvelope
	seq uint64
}

func New() *Bus {
	return &Bus{
		pending: make(map[string]pendingEntry),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Publish enqueues an event and returns its envelope ID.
func (b *Bus) Publish(event models.Event) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return "", ErrBusClosed
	default:
	}

	env := &models.EventEnvelope{
		ID:    uuid.NewString(),
		Event: event,
	}
	b.queue = append(b.queue, env)
	b.signal()
	return env.ID, nil
}

// signal wakes at most one waiting consumer. Callers hold the mutex.
func (b *Bus) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an envelope is available, moves it to the pending set and
// returns it. It returns ErrBusClosed after Close drains, or ctx.Err on
// cancellation.
func (b *Bus) Next(ctx context.Context) (*models.EventEnvelope, error) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			env := b.queue[0]
			b.queue = b.queue[1:]
			b.seq++
			b.pending[env.ID] = pendingEntry{env: env, seq: b.seq}
			b.mu.Unlock()
			return env, nil
		}
		closed := false
		select {
		case <-b.done:
			closed = true
		default:
		}
		b.mu.Unlock()
		if closed {
			return nil, ErrBusClosed
		}

		select {
		case <-b.notify:
		case <-b.done:
			// Loop once more; Close may have raced a final Publish.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes a delivered envelope from the pending set.
func (b *Bus) Ack(envelopeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, envelopeID)
}

// Nack returns a delivered envelope to the head of the queue for redelivery.
func (b *Bus) Nack(envelopeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.pending[envelopeID]
	if !ok {
		return
	}
	delete(b.pending, envelopeID)
	b.queue = append([]*models.EventEnvelope{entry.env}, b.queue...)
	b.signal()
}

// RequeuePending moves every pending envelope back to the head of the queue
// in original delivery order. Called when the consumer restarts so in-flight
// events are not lost.
func (b *Bus) RequeuePending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return 0
	}
	entries := make([]pendingEntry, 0, len(b.pending))
	for _, entry := range b.pending {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	requeued := make([]*models.EventEnvelope, len(entries))
	for i, entry := range entries {
		requeued[i] = entry.env
	}
	b.pending = make(map[string]pendingEntry)
	b.queue = append(requeued, b.queue...)
	b.signal()
	return len(requeued)
}

// Depth returns the number of queued, undelivered envelopes.
func (b *Bus) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// PendingCount returns the number of delivered, unacked envelopes.
func (b *Bus) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the bus. Queued envelopes remain readable by Next until the
// queue drains; further publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		return
	default:
	}
	close(b.done)
}
