package notification

import "sync"

// Queue holds async responses until a pull drains them, in arrival order.
//
// Enqueue never blocks. With a positive limit the oldest entry is dropped
// to make room. DrainAll swaps the backing slice under the lock, so every
// response is returned by exactly one drain.
//
// All public methods are thread-safe.
type Queue struct {
	mu      sync.Mutex
	items   []AsyncResponse
	limit   int
	dropped uint64
}

// NewQueue creates a queue. A limit of 0 means unbounded.
func NewQueue(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{limit: limit}
}

// Enqueue appends a response. It reports whether the oldest entry was
// dropped to respect the limit.
func (q *Queue) Enqueue(resp AsyncResponse) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.items) >= q.limit {
		q.items[0] = AsyncResponse{}
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, resp)
	return dropped
}

// DrainAll removes and returns every queued response, oldest first.
// The result is never nil.
func (q *Queue) DrainAll() []AsyncResponse {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	if items == nil {
		return []AsyncResponse{}
	}
	return items
}

// Len returns the number of queued responses.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many responses were discarded because of the limit.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
