// Package queue provides the unbounded FIFO that links the capture,
// classify, forward, decode and injection goroutines.
//
// Consumers park in Get until a value arrives. End-of-stream is signalled
// in-band: producers push the zero value of T (nil for the pointer and slice
// types used across the engine), one per parked consumer.
package queue

import "sync"

type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends v and wakes one waiting consumer. It never blocks.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.cond.Signal()
}

// Get removes and returns the oldest value, waiting for one if the
// queue is empty.
func (q *Queue[T]) Get() T {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	return q.pop()
}

// TryGet is the non-blocking variant of Get.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain discards everything currently queued and returns how many
// values were dropped.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

func (q *Queue[T]) pop() T {
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return v
}
