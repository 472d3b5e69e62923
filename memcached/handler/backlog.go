package handler

import (
	"sync"
	"sync/atomic"
)

// Backlog counts pending requests. It reports congestion once high requests are
// pending and releases the waiting readers when the count dropped to low.
// A high watermark of zero disables the limit.
type Backlog struct {
	high, low int64
	pending   atomic.Int64
	waiting   atomic.Int32

	mu      sync.Mutex
	waiters []func()
}

// NewBacklog creates a backlog with the given watermarks
func NewBacklog(high, low int64) *Backlog {
	if low > high {
		low = high
	}
	return &Backlog{high: high, low: low}
}

// Enqueued records a new pending request
func (b *Backlog) Enqueued() {
	b.pending.Add(1)
}

// Completed records a finished request
func (b *Backlog) Completed() {
	if b.pending.Add(-1) <= b.low && b.waiting.Load() > 0 {
		b.release()
	}
}

// Pending returns the number of pending requests
func (b *Backlog) Pending() int64 {
	return b.pending.Load()
}

// Check reports whether the backlog is congested and registers onCleared if so
func (b *Backlog) Check(onCleared func()) bool {
	if b.high <= 0 || b.pending.Load() < b.high {
		return false
	}
	b.mu.Lock()
	b.waiters = append(b.waiters, onCleared)
	b.waiting.Add(1)
	b.mu.Unlock()

	// the last request may have completed before the waiter was registered
	if b.pending.Load() <= b.low {
		b.release()
	}
	return true
}

func (b *Backlog) release() {
	b.mu.Lock()
	waiters := b.waiters
	b.waiters = nil
	b.waiting.Store(0)
	b.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}
