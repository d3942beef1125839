package render

import (
	"context"
	"sync"

	"pyro/internal/pkg/errors"
)

// DefaultQueueCapacity is used when no capacity is configured.
const DefaultQueueCapacity = 64

// ErrClosed is returned by Dequeue once the queue is closed and empty.
var ErrClosed = errors.New(errors.CodeUnavailable, "render queue closed")

// Queue is a bounded FIFO with any number of producers and exactly one
// consumer. Enqueue never blocks.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	closed   bool
	notify   chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		items:    make([]Item, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends it, or fails with RESOURCE_UNAVAILABLE when the queue is
// full or closed.
func (q *Queue) Enqueue(it Item) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.ResourceUnavailable("renderer is shutting down")
	}
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return errors.ResourceUnavailable("render queue is full").WithField("capacity", q.capacity)
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue blocks until an item is available, ctx is done, or the queue is
// closed and empty. Items queued before Close are still returned.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Remove takes the item with the given id out of the queue if it has not
// been dequeued yet.
func (q *Queue) Remove(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.ItemID() == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return it, true
		}
	}
	return nil, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int {
	return q.capacity
}

// Close stops intake. Queued items stay available to Dequeue.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Drain removes and returns every queued item.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]Item, 0, q.capacity)
	return out
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
