package conn

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/mcKV/lib/buffer"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/eapache/queue"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("conn")

// ErrConnectionClosed is returned once the peer closed the stream or the connection was closed
var ErrConnectionClosed = errors.New("connection closed")

// initialSlots is the initial size of the buffer tracking array, it doubles when full
const initialSlots = 2

// DefaultMaxBodyLength is the largest accepted frame body unless SetMaxBodyLength
// changes it: a 1 MiB value plus the longest key and extras
const DefaultMaxBodyLength = 1<<20 + protocol.MaxKeyLength + 255

// IOObserver is notified about the bytes moved over a connection
type IOObserver interface {
	BytesRead(n int)
	BytesWritten(n int)
}

// Connection is the protocol engine of one client connection.
//
// Read, Close and everything touching the read buffers must be called from a
// single goroutine (the reader). Responses are flushed from any goroutine.
type Connection struct {
	id       uint64
	socket   Socket
	provider buffer.IProvider
	observer IOObserver
	flow     *FlowControl

	// reader state
	buffers  []*buffer.SharedBuffer
	count    int
	readIdx  int
	readOff  int
	writeIdx int
	writeOff int
	readable int
	writable int
	required int
	inBody   bool
	header   protocol.Header
	maxBody  int
	nextID   uint64

	queue ResponseQueue

	// writeMu serializes socket writes and guards the delegated write queue
	writeMu   sync.Mutex
	delegated *queue.Queue

	closed      atomic.Bool
	done        chan struct{}
	releaseOnce sync.Once
}

// NewConnection creates the engine for a socket. observer may be nil.
func NewConnection(id uint64, socket Socket, provider buffer.IProvider, observer IOObserver) *Connection {
	return &Connection{
		id:        id,
		socket:    socket,
		provider:  provider,
		observer:  observer,
		flow:      NewFlowControl(),
		buffers:   make([]*buffer.SharedBuffer, initialSlots),
		required:  protocol.HeaderLen,
		maxBody:   DefaultMaxBodyLength,
		delegated: queue.New(),
		done:      make(chan struct{}),
	}
}

// ID returns the id of the connection
func (c *Connection) ID() uint64 {
	return c.id
}

// Flow returns the flow control of the connection
func (c *Connection) Flow() *FlowControl {
	return c.flow
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether the connection was closed
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// SetMaxBodyLength sets the largest accepted frame body. A header announcing a
// larger body is a protocol error, no buffers are acquired for it.
// It must be called before the first Read.
func (c *Connection) SetMaxBodyLength(n int) {
	c.maxBody = n
}

// Queue returns the response ordering queue
func (c *Connection) Queue() *ResponseQueue {
	return &c.queue
}

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// Read performs one read from the socket and returns all requests that became
// complete. Requests are returned together with an error if the stream ended
// after delivering them.
func (c *Connection) Read() ([]*Request, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if err := c.ensureCapacity(c.required - c.readable); err != nil {
		return nil, fmt.Errorf("connection %d: failed to acquire read buffer: %w", c.id, err)
	}

	b := c.buffers[c.writeIdx].Bytes()
	n, readErr := c.socket.Read(b[c.writeOff:])
	if n > 0 {
		c.writeOff += n
		c.writable -= n
		c.readable += n
		if c.observer != nil {
			c.observer.BytesRead(n)
		}
	}

	var requests []*Request
	for c.readable >= c.required {
		segs := c.carve(c.required)
		if !c.inBody {
			h, err := protocol.ParseHeader(segs.Slice(0, protocol.HeaderLen))
			_ = segs.Dispose()
			if err != nil {
				c.compact()
				return requests, err
			}
			if h.BodyLength < 0 {
				Logger.Warningf("connection %d: negative body length %d for %s, using its absolute value", c.id, h.BodyLength, h.Opcode)
			}
			if h.BodyLen() > c.maxBody {
				c.compact()
				return requests, &protocol.ProtocolError{
					Reason: protocol.ErrInvalidLength,
					Detail: fmt.Sprintf("body of %d bytes exceeds the limit of %d", h.BodyLen(), c.maxBody),
				}
			}
			c.header = h
			c.required = h.BodyLen()
			c.inBody = true
			continue
		}
		requests = append(requests, c.newRequest(segs))
		c.required = protocol.HeaderLen
		c.inBody = false
	}
	c.compact()

	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			return requests, ErrConnectionClosed
		}
		return requests, fmt.Errorf("connection %d: read failed: %w", c.id, readErr)
	}
	return requests, nil
}

func (c *Connection) newRequest(segs *buffer.Segments) *Request {
	req := &Request{
		Header:  c.header,
		payload: segs,
		id:      c.nextID,
		assoc:   c.id,
	}
	c.nextID++
	req.response = newResponse(c, req)
	c.queue.Append(req.response)
	return req
}

// ensureCapacity acquires buffers until at least missing bytes can be read
func (c *Connection) ensureCapacity(missing int) error {
	if missing < 1 {
		missing = 1
	}
	for c.writable < missing {
		sb, err := buffer.NewShared(c.provider, c.provider.UnitSize())
		if err != nil {
			return err
		}
		if c.count == len(c.buffers) {
			grown := make([]*buffer.SharedBuffer, 2*len(c.buffers))
			copy(grown, c.buffers)
			c.buffers = grown
		}
		c.buffers[c.count] = sb
		c.count++
		c.writable += sb.Len()
	}
	c.normalizeWriteCursor()
	return nil
}

func (c *Connection) normalizeWriteCursor() {
	for c.writeIdx < c.count && c.writeOff == c.buffers[c.writeIdx].Len() {
		c.writeIdx++
		c.writeOff = 0
	}
}

// carve takes the next k readable bytes as segments. The result is a single
// segment if the bytes lie in one buffer.
func (c *Connection) carve(k int) *buffer.Segments {
	var parts []*buffer.Segment
	for k > 0 {
		sb := c.buffers[c.readIdx]
		avail := sb.Len() - c.readOff
		if avail == 0 {
			c.readIdx++
			c.readOff = 0
			continue
		}
		take := min(avail, k)
		parts = append(parts, sb.Segment(c.readOff, take))
		c.readOff += take
		c.readable -= take
		k -= take
	}
	return buffer.NewSegments(parts...)
}

// compact detaches all fully consumed buffers and moves the remaining
// slots to the front of the tracking array
func (c *Connection) compact() {
	for c.readIdx < c.count && c.readOff == c.buffers[c.readIdx].Len() {
		c.readIdx++
		c.readOff = 0
	}
	c.normalizeWriteCursor()
	if c.readIdx == 0 {
		return
	}
	for i := 0; i < c.readIdx; i++ {
		_ = c.buffers[i].Detach()
	}
	live := copy(c.buffers, c.buffers[c.readIdx:c.count])
	for i := live; i < c.count; i++ {
		c.buffers[i] = nil
	}
	c.count = live
	c.writeIdx -= c.readIdx
	c.readIdx = 0
}

// TrackedBuffers returns the number of buffers held by the reader
func (c *Connection) TrackedBuffers() int {
	return c.count
}

// --------------------------------------------------------------------------
// Write side
// --------------------------------------------------------------------------

// flush writes r and every following completed response, or defers r if a
// previous response is still outstanding
func (c *Connection) flush(r *Response) {
	flushable := c.queue.TryFlush(r, true)
	for {
		if flushable {
			c.emit(r)
			r = c.queue.Advance(r)
			if r == nil {
				return
			}
		} else {
			c.queue.MarkDeferred(r)
		}
		if flushable = c.queue.TryFlush(r, false); !flushable {
			return
		}
	}
}

// emit writes a response whose turn it is
func (c *Connection) emit(r *Response) {
	if c.closed.Load() {
		r.dispose()
		return
	}
	if r.suppress && !r.closeAfter {
		r.dispose()
		return
	}

	c.writeMu.Lock()
	if r.suppress && c.delegated.Length() == 0 {
		c.writeMu.Unlock()
		r.dispose()
		c.shutdown()
		return
	}
	if c.delegated.Length() > 0 {
		c.delegated.Add(r)
		c.writeMu.Unlock()
		c.flow.ResumeWrites()
		return
	}
	done, err := c.writeLocked(r)
	if err == nil && !done {
		c.delegated.Add(r)
	}
	c.writeMu.Unlock()

	switch {
	case err != nil:
		Logger.Debugf("connection %d: write failed: %v", c.id, err)
		r.dispose()
		c.shutdown()
	case !done:
		c.flow.ResumeWrites()
	default:
		r.dispose()
		if r.closeAfter {
			c.shutdown()
		}
	}
}

// writeLocked writes as much of r as the socket takes
func (c *Connection) writeLocked(r *Response) (bool, error) {
	n, err := c.socket.Write(r.out)
	if n > 0 && c.observer != nil {
		c.observer.BytesWritten(int(n))
	}
	r.out = consume(r.out, n)
	if err != nil {
		return false, err
	}
	return pending(r.out) == 0, nil
}

// Write drains the delegated write queue. It reports true if data is still
// pending because the socket did not take everything.
func (c *Connection) Write() (bool, error) {
	c.writeMu.Lock()
	for c.delegated.Length() > 0 {
		r := c.delegated.Peek().(*Response)
		done, err := c.writeLocked(r)
		if err != nil {
			c.writeMu.Unlock()
			c.shutdown()
			return false, fmt.Errorf("connection %d: write failed: %w", c.id, err)
		}
		if !done {
			c.writeMu.Unlock()
			return true, nil
		}
		c.delegated.Remove()
		r.dispose()
		if r.closeAfter {
			c.writeMu.Unlock()
			c.shutdown()
			return false, nil
		}
	}
	c.writeMu.Unlock()
	return false, nil
}

// PendingWrites returns the number of responses in the delegated write queue
func (c *Connection) PendingWrites() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.delegated.Length()
}

// --------------------------------------------------------------------------
// Close
// --------------------------------------------------------------------------

// shutdown closes the socket and discards pending writes. It may be called from any goroutine.
func (c *Connection) shutdown() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	// closing a socket twice is harmless, the error carries no information
	_ = c.socket.Close()

	c.writeMu.Lock()
	for c.delegated.Length() > 0 {
		c.delegated.Remove().(*Response).dispose()
	}
	c.writeMu.Unlock()
	close(c.done)
}

// Shutdown closes the socket from any goroutine. The blocked reader returns and
// releases the buffers with Close.
func (c *Connection) Shutdown() {
	c.shutdown()
}

// Close closes the connection and releases the read buffers.
// It must be called by the reader goroutine, calling it again has no effect.
func (c *Connection) Close() error {
	c.shutdown()
	c.releaseOnce.Do(func() {
		for i := 0; i < c.count; i++ {
			_ = c.buffers[i].Detach()
			c.buffers[i] = nil
		}
		c.count, c.readIdx, c.readOff, c.writeIdx, c.writeOff = 0, 0, 0, 0, 0
		c.readable, c.writable = 0, 0
	})
	return nil
}
