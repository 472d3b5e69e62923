package util

import (
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
//
// Producers call Push from any goroutine. The single consumer waits on Notify
// and takes all available values with Drain. The queue is unbounded.
type LockFreeMPSC[T any] struct {
	head   *node[T] // consumer only
	tail   atomic.Pointer[node[T]]
	notify chan struct{}
	closed atomic.Bool
}

// NewLockFreeMPSC creates an empty queue
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}
	q := &LockFreeMPSC[T]{
		head:   sentinel,
		notify: make(chan struct{}, 1),
	}
	q.tail.Store(sentinel)
	return q
}

// Push adds a value. It returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}
	n := &node[T]{value: value}
	// swapping the tail serializes producers, linking the previous tail
	// publishes the node to the consumer
	prev := q.tail.Swap(n)
	prev.next.Store(n)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain passes all values that are fully published to fn and returns their number.
//
// Thread-safety: This method must only be called by the single consumer.
func (q *LockFreeMPSC[T]) Drain(fn func(T)) int {
	count := 0
	for {
		next := q.head.next.Load()
		if next == nil {
			return count
		}
		var zero T
		value := next.value
		next.value = zero
		q.head = next
		fn(value)
		count++
	}
}

// Notify is signalled after a Push
func (q *LockFreeMPSC[T]) Notify() <-chan struct{} {
	return q.notify
}

// Close prevents further pushes. Values already pushed can still be drained.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}
