// Package backpressure implements the bounded queue policies shared
// by FrameBroadcast and DocumentStream: a producer publishes into a
// per-consumer queue that enforces one of four overflow policies.
package backpressure

import (
	"context"
	"sync"

	"github.com/easternanemone/daq-core/internal/daqerr"
)

// Policy selects what happens when a consumer's queue is full.
type Policy int

const (
	// Block makes the writer wait until space is available or the
	// context is cancelled.
	Block Policy = iota
	// DropOldest pops the front of the queue and pushes the new item.
	DropOldest
	// DropNewest ignores the new item, keeping the queue as-is, and
	// counts it as dropped.
	DropNewest
	// LatestOnly keeps at most one item, always the most recent.
	LatestOnly
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case LatestOnly:
		return "latest_only"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the configuration surface's policy names.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block":
		return Block, nil
	case "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "latest_only":
		return LatestOnly, nil
	default:
		return 0, daqerr.New("ParsePolicy", daqerr.CategoryConfiguration, "unknown backpressure policy: "+s)
	}
}

// Queue is a bounded, policy-governed queue of T, used as the per-sink
// or per-subscriber transport for both frames and documents.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	capacity int
	policy   Policy
	closed   bool

	delivered uint64
	dropped   uint64
}

// NewQueue creates a bounded queue with the given capacity and
// overflow policy. capacity must be >= 1; LatestOnly behaves as if
// capacity were 1 regardless of the value passed.
func NewQueue[T any](capacity int, policy Policy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{capacity: capacity, policy: policy}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues an item according to the queue's policy. Under Block
// it waits for space or for ctx to be cancelled, returning ctx.Err()
// in the latter case. Under the drop policies it never blocks and
// never returns an error.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	_, err := q.PushReportingDrop(ctx, item)
	return err
}

// PushReportingDrop behaves like Push but also reports, without a
// race against concurrent pushers, whether this specific call caused
// an item to be dropped (DropNewest ignoring item, DropOldest
// evicting the front entry to make room for it, or LatestOnly
// overwriting an item that was never popped).
func (q *Queue[T]) PushReportingDrop(ctx context.Context, item T) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, daqerr.New("Push", daqerr.CategoryStatePrecondition, "queue closed")
	}

	switch q.policy {
	case LatestOnly:
		wasNonEmpty := len(q.items) > 0
		if wasNonEmpty {
			q.dropped++
		}
		q.items = q.items[:0]
		q.items = append(q.items, item)
		q.notEmpty.Signal()
		return wasNonEmpty, nil

	case DropNewest:
		if len(q.items) >= q.capacity {
			q.dropped++
			return true, nil
		}
		q.items = append(q.items, item)
		q.notEmpty.Signal()
		return false, nil

	case DropOldest:
		evicted := false
		if len(q.items) >= q.capacity {
			q.items = q.items[1:]
			q.dropped++
			evicted = true
		}
		q.items = append(q.items, item)
		q.notEmpty.Signal()
		return evicted, nil

	default: // Block
		for len(q.items) >= q.capacity && !q.closed {
			if !q.waitOrCancel(ctx, q.notFull) {
				return false, daqerr.Wrap("Push", ctx.Err())
			}
		}
		if q.closed {
			return false, daqerr.New("Push", daqerr.CategoryStatePrecondition, "queue closed")
		}
		q.items = append(q.items, item)
		q.notEmpty.Signal()
		return false, nil
	}
}

// Pop dequeues the next item, blocking until one is available, the
// queue is closed, or ctx is cancelled.
func (q *Queue[T]) Pop(ctx context.Context) (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		if !q.waitOrCancel(ctx, q.notEmpty) {
			var zero T
			return zero, false
		}
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	item = q.items[0]
	q.items = q.items[1:]
	q.delivered++
	q.notFull.Signal()
	return item, true
}

// TryPop dequeues the next item without blocking.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	q.delivered++
	q.notFull.Signal()
	return item, true
}

// Len returns the number of items currently queued.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns cumulative delivered/dropped counters.
func (q *Queue[T]) Stats() (delivered, dropped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered, q.dropped
}

// Close marks the queue closed; blocked Push/Pop callers wake and
// return. Further pushes fail with a state-precondition error.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// waitOrCancel waits on cond, but also aborts the wait if ctx is
// cancelled, returning false in that case. The queue's lock is held
// on entry and on return in both outcomes.
func (q *Queue[T]) waitOrCancel(ctx context.Context, cond *sync.Cond) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		close(done)
		cond.Broadcast()
	})
	defer stop()

	cond.Wait()

	select {
	case <-done:
		return false
	default:
		return ctx.Err() == nil
	}
}
