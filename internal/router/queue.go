package router

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO shared between one producer goroutine and any
// number of consumers. Push never blocks, so a slow consumer cannot stall
// event routing.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{} // Wakes one waiting consumer
	done   chan struct{} // Closed by Close, wakes all consumers
	closed bool

	// Stats
	pushed    int64
	popped    int64
	highWater int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		items:  make([]T, 0, initialCapacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.pushed++
	if len(q.items) > q.highWater {
		q.highWater = len(q.items)
	}
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes the oldest item, blocking until one is available, the queue
// is closed and empty, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		item, ok, closed := q.take()
		if ok {
			return item, nil
		}
		if closed {
			var zero T
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	item, ok, _ := q.take()
	return item, ok
}

// DrainTo removes up to max items (all if max <= 0) in FIFO order.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	copy(out, q.items[:n])
	q.shift(n)
	return out
}

// Close closes the queue. Consumers still receive queued items.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Done is closed once Close has been called.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the current number of items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:     len(q.items),
		HighWater: q.highWater,
		Pushed:    q.pushed,
		Popped:    q.popped,
	}
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count     int
	HighWater int
	Pushed    int64
	Popped    int64
}

func (q *Queue[T]) take() (item T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return item, false, q.closed
	}
	item = q.items[0]
	q.shift(1)
	if len(q.items) > 0 {
		q.signal()
	}
	return item, true, q.closed
}

// shift drops the first n items. Must be called with lock held.
func (q *Queue[T]) shift(n int) {
	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero // Clear reference for GC
	}
	q.items = q.items[n:]
	q.popped += int64(n)

	// Release the backing array once drained
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
