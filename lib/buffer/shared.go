package buffer

import (
	"sync/atomic"
)

// SharedBuffer is a provider buffer shared between the connection that fills it
// and the segments carved out of it
type SharedBuffer struct {
	buf      *Buffer
	provider IProvider
	refs     atomic.Int32
	detached atomic.Bool
	released atomic.Bool
}

// NewShared acquires a buffer of the given size from the provider. The caller
// holds the first reference and drops it with Detach.
func NewShared(provider IProvider, size int) (*SharedBuffer, error) {
	b, err := provider.Acquire(size)
	if err != nil {
		return nil, err
	}
	s := &SharedBuffer{buf: b, provider: provider}
	s.refs.Store(1)
	return s, nil
}

// Len returns the capacity of the buffer
func (s *SharedBuffer) Len() int {
	return len(s.buf.data)
}

// Bytes returns the underlying memory, panics if the buffer was released
func (s *SharedBuffer) Bytes() []byte {
	if s.released.Load() {
		panic(ErrUseAfterRelease)
	}
	return s.buf.data
}

// Released reports whether the buffer went back to the provider
func (s *SharedBuffer) Released() bool {
	return s.released.Load()
}

// Segment returns a zero-copy view of n bytes starting at off
func (s *SharedBuffer) Segment(off, n int) *Segment {
	if s.released.Load() {
		panic(ErrUseAfterRelease)
	}
	if off < 0 || n < 0 || off+n > len(s.buf.data) {
		panic("buffer: segment out of range")
	}
	s.refs.Add(1)
	return &Segment{owner: s, off: off, n: n}
}

// Detach drops the reference of the creator. The buffer is released
// as soon as all segments are disposed.
func (s *SharedBuffer) Detach() error {
	if !s.detached.CompareAndSwap(false, true) {
		return ErrAlreadyDisposed
	}
	s.unref()
	return nil
}

func (s *SharedBuffer) unref() {
	if s.refs.Add(-1) == 0 {
		s.released.Store(true)
		s.provider.Release(s.buf)
	}
}

// Segment is a view into a SharedBuffer
type Segment struct {
	owner    *SharedBuffer
	off, n   int
	disposed atomic.Bool
}

// Len returns the number of bytes in the segment
func (s *Segment) Len() int {
	return s.n
}

// Bytes returns the bytes of the segment without copying.
// It panics with ErrUseAfterRelease if the segment was disposed.
func (s *Segment) Bytes() []byte {
	if s.disposed.Load() || s.owner.released.Load() {
		panic(ErrUseAfterRelease)
	}
	return s.owner.buf.data[s.off : s.off+s.n]
}

// Dispose drops the reference the segment holds on its buffer
func (s *Segment) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return ErrAlreadyDisposed
	}
	s.owner.unref()
	return nil
}
