package conn

import (
	"sync/atomic"
)

// ResponseQueue keeps the responses of a connection in request order.
//
// Append is only called by the goroutine that parses requests. TryFlush,
// MarkDeferred and Advance are called concurrently by the workers. The race
// between appending a response and removing the last one is resolved by a
// compare-and-swap on the next pointer of the last element, which Advance
// replaces with a tombstone when it removes the last element.
type ResponseQueue struct {
	head atomic.Pointer[Response]
	tail atomic.Pointer[Response]
}

// tombstone marks the next pointer of a removed last element
var tombstone = &Response{}

// Append adds r at the end of the queue
func (q *ResponseQueue) Append(r *Response) {
	prev := q.tail.Load()
	q.tail.Store(r)
	if prev == nil || !prev.next.CompareAndSwap(nil, r) {
		// the queue was empty or its last element was removed concurrently
		q.head.Store(r)
	}
}

// TryFlush reports whether r may be written now. The owner of r is the worker
// that completed it, any other caller takes over a deferred response and must
// win the deferred flag.
func (q *ResponseQueue) TryFlush(r *Response, owner bool) bool {
	if r == nil || q.head.Load() != r {
		return false
	}
	if owner {
		return true
	}
	return r.deferred.CompareAndSwap(true, false)
}

// MarkDeferred records that r is complete but could not be written by its owner
func (q *ResponseQueue) MarkDeferred(r *Response) {
	r.deferred.Store(true)
}

// Advance removes the written head r and returns the new head, or nil if r was the last element
func (q *ResponseQueue) Advance(r *Response) *Response {
	if r.next.CompareAndSwap(nil, tombstone) {
		q.head.CompareAndSwap(r, nil)
		return nil
	}
	next := r.next.Load()
	q.head.Store(next)
	return next
}

// Head returns the oldest response not yet written
func (q *ResponseQueue) Head() *Response {
	return q.head.Load()
}
