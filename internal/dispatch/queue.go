// ABOUTME: Unbounded FIFO queue with non-blocking push and context-aware wait
// ABOUTME: One queue per stream subscription and per assistant delivery lane

package dispatch

import (
	"context"
	"sync"
	"time"
)

// queue is an unbounded FIFO. Push never blocks, so a stalled consumer cannot
// back-pressure the dispatcher; the trade is unbounded memory growth for a
// permanently stalled consumer, which is accepted and documented.
//
// Any number of goroutines may Push concurrently. A queue has a single
// logical reader; Wait and WaitTimeout must not be called concurrently.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{} // closed-over signal: one token when items is non-empty
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends an item and wakes the reader if it is waiting.
func (q *queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop removes and returns the head item if one exists.
func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// Re-arm the signal for the next reader pass.
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return item, true
}

// Wait blocks until an item is available or ctx is cancelled. Cancellation is
// the only wake-up other than a new item.
func (q *queue[T]) Wait(ctx context.Context) (T, bool) {
	for {
		if item, ok := q.pop(); ok {
			return item, true
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// WaitTimeout is Wait with an upper bound on how long the reader sleeps.
// It returns (item, true) on an item, (zero, false) on timeout or ctx
// cancellation. The bound is what lets stream loops notice shutdown and
// disconnects promptly instead of blocking forever on an empty queue.
func (q *queue[T]) WaitTimeout(ctx context.Context, d time.Duration) (T, bool) {
	if item, ok := q.pop(); ok {
		return item, true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-q.ready:
			if item, ok := q.pop(); ok {
				return item, true
			}
		case <-timer.C:
			var zero T
			return zero, false
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}
