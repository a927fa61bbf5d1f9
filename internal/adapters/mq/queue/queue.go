// Package queue defines the contract for dispatching member job runs.
//
// The queue carries job keys, not payloads: the durable job record is the
// source of truth and is re-read by whichever worker picks the key up. A
// key already waiting in the queue is not enqueued twice.
package queue

import (
	"context"
	"sync"

	"github.com/dross/clantally/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 1024
)

// RunRequest asks for one run of the job identified by Key.
type RunRequest struct {
	Key string
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a run request. Returns false if the queue is full,
	// closed, or the key is already waiting.
	Enqueue(ctx context.Context, req RunRequest) bool

	// Dequeue returns a channel delivering run requests. The channel is
	// closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan RunRequest

	// Len returns the current number of waiting requests.
	Len(ctx context.Context) int

	// Close stops the queue; no new requests are accepted.
	Close() error
}

// InMemoryQueue implements Queue on a buffered channel with a waiting-key
// set for duplicate suppression.
type InMemoryQueue struct {
	requests chan RunRequest
	capacity int

	mu      sync.Mutex
	waiting map[string]struct{}
	closed  bool
}

// NewInMemoryQueue creates a queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
		waiting:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.requests = make(chan RunRequest, q.capacity)
	metrics.UpdateRunQueueSize(0)
	return q
}

// Enqueue adds a run request unless the key is already waiting.
func (q *InMemoryQueue) Enqueue(_ context.Context, req RunRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.waiting[req.Key]; dup {
		// Already queued; one run will cover this request too.
		return true
	}

	select {
	case q.requests <- req:
		q.waiting[req.Key] = struct{}{}
		metrics.UpdateRunQueueSize(len(q.requests))
		return true
	default:
		metrics.RecordRunDropped()
		return false
	}
}

// Dequeue returns a channel delivering run requests.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan RunRequest {
	out := make(chan RunRequest)
	go func() {
		defer close(out)
		for req := range q.requests {
			q.mu.Lock()
			delete(q.waiting, req.Key)
			q.mu.Unlock()
			metrics.UpdateRunQueueSize(len(q.requests))
			select {
			case out <- req:
			case <-ctx.Done():
				// req is dropped without delivery. Its job record is
				// still pending, so the next sweep re-enqueues it.
				return
			}
		}
	}()
	return out
}

// Len returns the current number of waiting requests.
func (q *InMemoryQueue) Len(_ context.Context) int {
	return len(q.requests)
}

// Close stops the queue; no new requests are accepted.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}
