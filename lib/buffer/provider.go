package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

var (
	// ErrAlreadyDisposed is returned when a segment or a set of segments is disposed twice
	ErrAlreadyDisposed = errors.New("buffer: already disposed")
	// ErrUseAfterRelease is the panic value when released memory is accessed
	ErrUseAfterRelease = errors.New("buffer: use after release")
	// ErrExhausted is returned by a bounded provider when no buffer became free in time
	ErrExhausted = errors.New("buffer: provider exhausted")
)

// Buffer is a unit of memory handed out by an IProvider
type Buffer struct {
	data    []byte
	release func()
}

// Bytes returns the memory of the buffer
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the size of the buffer
func (b *Buffer) Len() int {
	return len(b.data)
}

// IProvider hands out buffers and takes them back
type IProvider interface {
	// Acquire returns a buffer with at least size bytes
	Acquire(size int) (*Buffer, error)
	// Release gives the buffer back, it must not be used afterward
	Release(b *Buffer)
	// Outstanding returns the number of acquired but not yet released buffers
	Outstanding() int64
	// UnitSize returns the default size of the buffers
	UnitSize() int
}

// --------------------------------------------------------------------------
// Unbounded sync.Pool provider
// --------------------------------------------------------------------------

type pool struct {
	unit        int
	pool        sync.Pool
	outstanding atomic.Int64
}

// NewPool creates an unbounded provider. Buffers of the unit size are recycled,
// larger requests are allocated on demand.
func NewPool(unit int) IProvider {
	p := &pool{unit: unit}
	p.pool.New = func() any {
		b := make([]byte, unit)
		return &b
	}
	return p
}

func (p *pool) Acquire(size int) (*Buffer, error) {
	p.outstanding.Add(1)
	if size > p.unit {
		return &Buffer{data: make([]byte, size)}, nil
	}
	bp := p.pool.Get().(*[]byte)
	b := &Buffer{data: *bp}
	b.release = func() { p.pool.Put(bp) }
	return b, nil
}

func (p *pool) Release(b *Buffer) {
	p.outstanding.Add(-1)
	if b.release != nil {
		b.release()
	}
	b.data = nil
}

func (p *pool) Outstanding() int64 {
	return p.outstanding.Load()
}

func (p *pool) UnitSize() int {
	return p.unit
}

// --------------------------------------------------------------------------
// Bounded puddle provider
// --------------------------------------------------------------------------

// BoundedPool limits the number of unit sized buffers in use
type BoundedPool struct {
	unit        int
	timeout     time.Duration
	pool        *puddle.Pool[[]byte]
	outstanding atomic.Int64
}

// NewBoundedPool creates a provider with at most maxBuffers unit sized buffers.
// Acquire blocks up to timeout if all buffers are in use.
func NewBoundedPool(unit int, maxBuffers int32, timeout time.Duration) (*BoundedPool, error) {
	p, err := puddle.NewPool(&puddle.Config[[]byte]{
		Constructor: func(ctx context.Context) ([]byte, error) {
			return make([]byte, unit), nil
		},
		Destructor: func([]byte) {},
		MaxSize:    maxBuffers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %w", err)
	}
	return &BoundedPool{unit: unit, timeout: timeout, pool: p}, nil
}

func (p *BoundedPool) Acquire(size int) (*Buffer, error) {
	if size > p.unit {
		// oversized frames are rare, they bypass the bound
		p.outstanding.Add(1)
		return &Buffer{data: make([]byte, size)}, nil
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	p.outstanding.Add(1)
	return &Buffer{data: res.Value(), release: res.Release}, nil
}

func (p *BoundedPool) Release(b *Buffer) {
	p.outstanding.Add(-1)
	if b.release != nil {
		b.release()
	}
	b.data = nil
}

func (p *BoundedPool) Outstanding() int64 {
	return p.outstanding.Load()
}

func (p *BoundedPool) UnitSize() int {
	return p.unit
}

// Stat returns the puddle statistics (total, idle and acquired buffers)
func (p *BoundedPool) Stat() *puddle.Stat {
	return p.pool.Stat()
}

// Close destroys all idle buffers. Buffers still in use are destroyed on release.
func (p *BoundedPool) Close() {
	p.pool.Close()
}
