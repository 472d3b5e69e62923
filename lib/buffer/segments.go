package buffer

import (
	"sync/atomic"
)

// Segments is a contiguous logical byte range made of one or more segments
type Segments struct {
	parts    []*Segment
	length   int
	disposed atomic.Bool
}

// NewSegments combines the parts into one view. Ownership of the parts moves to the view.
func NewSegments(parts ...*Segment) *Segments {
	s := &Segments{parts: parts}
	for _, p := range parts {
		s.length += p.n
	}
	return s
}

// Len returns the total number of bytes
func (s *Segments) Len() int {
	return s.length
}

// Count returns the number of underlying segments
func (s *Segments) Count() int {
	return len(s.parts)
}

// CopyTo copies bytes starting at off into dst and returns the number of bytes copied
func (s *Segments) CopyTo(dst []byte, off int) int {
	copied := 0
	for _, p := range s.parts {
		if len(dst) == copied {
			break
		}
		if off >= p.n {
			off -= p.n
			continue
		}
		copied += copy(dst[copied:], p.Bytes()[off:])
		off = 0
	}
	return copied
}

// Slice returns n bytes starting at off. The result aliases the buffer if the range
// lies in a single segment, otherwise it is a copy.
func (s *Segments) Slice(off, n int) []byte {
	if off < 0 || n < 0 || off+n > s.length {
		panic("buffer: slice out of range")
	}
	if n == 0 {
		return nil
	}
	pos := off
	for _, p := range s.parts {
		if pos >= p.n {
			pos -= p.n
			continue
		}
		if pos+n <= p.n {
			return p.Bytes()[pos : pos+n]
		}
		break
	}
	out := make([]byte, n)
	s.CopyTo(out, off)
	return out
}

// Bytes returns the complete range, see Slice
func (s *Segments) Bytes() []byte {
	return s.Slice(0, s.length)
}

// Dispose disposes all parts. A second call returns ErrAlreadyDisposed.
func (s *Segments) Dispose() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return ErrAlreadyDisposed
	}
	for _, p := range s.parts {
		_ = p.Dispose()
	}
	return nil
}

// Disposed reports whether Dispose was called
func (s *Segments) Disposed() bool {
	return s.disposed.Load()
}
