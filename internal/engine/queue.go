package engine

import "sync"

// itemQueue is a thread-safe FIFO of schedulable work.
//
// The queue is unbounded: one operation may schedule any number of
// follow-on items without blocking. Enqueue is safe from any goroutine so
// hosts can post signals while the executor drains; dequeuing happens only
// on the executor's goroutine.
//
// A buffered signal channel lets Serve wait for work and for context
// cancellation in the same select.
type itemQueue struct {
	mu     sync.Mutex
	items  []Schedulable
	closed bool
	signal chan struct{} // buffered, size 1
}

func newItemQueue() *itemQueue {
	return &itemQueue{
		items:  make([]Schedulable, 0, 32),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Returns false if the queue is closed.
func (q *itemQueue) Enqueue(s Schedulable) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *itemQueue) TryDequeue() (Schedulable, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	// Release the slot so the backing array does not pin finished items.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that signals when items may be available. It is
// closed when the queue is closed.
func (q *itemQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued item, along with any pending
// wake-up.
func (q *itemQueue) Drain() []Schedulable {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]Schedulable, 0, 32)
	if !q.closed {
		select {
		case <-q.signal:
		default:
		}
	}
	return out
}

// Close stops further enqueues and wakes waiters. Queued items stay
// available to TryDequeue.
func (q *itemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
