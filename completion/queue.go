package completion

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with a single consumer. Pushes never block so
// a producer can never deadlock on its own output.
type queue struct {
	mu         sync.Mutex
	items      []any
	unfinished int
	drained    chan struct{}

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(item any) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.unfinished++
	if q.unfinished == 1 {
		q.drained = make(chan struct{})
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// done marks one popped item as fully handled.
func (q *queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.drained)
	}
}

// join blocks until every pushed item has been handled.
func (q *queue) join(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
