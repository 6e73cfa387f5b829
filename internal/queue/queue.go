package queue

import (
	"sync"
)

// Queue collects work produced on one goroutine for another to drain. A
// positive limit bounds it; pushes past the limit are dropped and counted.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped int
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue holding at most limit items.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: limit}
}

// Push appends items and returns how many were accepted.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(items)
	if q.limit > 0 {
		if room := q.limit - len(q.items); room < n {
			if room < 0 {
				room = 0
			}
			q.dropped += n - room
			n = room
		}
	}
	q.items = append(q.items, items[:n]...)
	return n
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many pushes were refused since creation.
func (q *Queue[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
}

// Take returns all items in push order and empties the queue.
func (q *Queue[T]) Take() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(result))
	return result
}

// Drain calls fn for every item queued at the time of the call. Items pushed
// by fn wait for the next Drain.
func (q *Queue[T]) Drain(fn func(T)) int {
	items := q.Take()
	for _, it := range items {
		fn(it)
	}
	return len(items)
}
