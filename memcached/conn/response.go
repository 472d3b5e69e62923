package conn

import (
	"sync/atomic"

	"github.com/ValentinKolb/mcKV/memcached/protocol"
)

// StatEntry is one key value pair of a stat response
type StatEntry struct {
	Key   string
	Value string
}

// Response is filled by the backend and written in request order once flushed
type Response struct {
	request *Request
	conn    *Connection

	status protocol.Status
	cas    uint64
	extras []byte
	key    []byte
	value  []byte
	stats  []StatEntry

	suppress   bool
	closeAfter bool
	flushed    atomic.Bool

	// serialized frames, trimmed as they are written
	out [][]byte

	// ordering queue state
	next     atomic.Pointer[Response]
	deferred atomic.Bool
}

func newResponse(c *Connection, req *Request) *Response {
	return &Response{request: req, conn: c}
}

// Request returns the originating request
func (r *Response) Request() *Request {
	return r.request
}

// Opcode returns the opcode of the originating request
func (r *Response) Opcode() protocol.Opcode {
	return r.request.Header.Opcode
}

// SetStatus sets the status of the response
func (r *Response) SetStatus(s protocol.Status) {
	r.status = s
}

// Status returns the status of the response
func (r *Response) Status() protocol.Status {
	return r.status
}

// SetError sets an error status with msg as value
func (r *Response) SetError(s protocol.Status, msg string) {
	r.status = s
	r.extras = nil
	r.key = nil
	r.value = []byte(msg)
	r.cas = 0
}

// SetExtras sets the extras of the response
func (r *Response) SetExtras(b []byte) {
	r.extras = b
}

// Extras returns the extras of the response
func (r *Response) Extras() []byte {
	return r.extras
}

// SetKey sets the key of the response
func (r *Response) SetKey(b []byte) {
	r.key = b
}

// Key returns the key of the response
func (r *Response) Key() []byte {
	return r.key
}

// SetValue sets the value of the response
func (r *Response) SetValue(b []byte) {
	r.value = b
}

// Value returns the value of the response
func (r *Response) Value() []byte {
	return r.value
}

// SetCAS sets the compare-and-swap value of the response
func (r *Response) SetCAS(cas uint64) {
	r.cas = cas
}

// CAS returns the compare-and-swap value of the response
func (r *Response) CAS() uint64 {
	return r.cas
}

// AddStat adds one stat packet. Stat responses are terminated by an empty packet.
func (r *Response) AddStat(key, value string) {
	r.stats = append(r.stats, StatEntry{Key: key, Value: value})
}

// Stats returns the stat entries of the response
func (r *Response) Stats() []StatEntry {
	return r.stats
}

// Suppress marks the response to not be written (quiet commands)
func (r *Response) Suppress() {
	r.suppress = true
}

// Suppressed reports whether the response will be skipped
func (r *Response) Suppressed() bool {
	return r.suppress
}

// CloseConnection closes the connection once the response was written, or
// right away if the response is suppressed
func (r *Response) CloseConnection() {
	r.closeAfter = true
}

// Flush completes the response. It is written as soon as all previous
// responses of the connection are written. Flush must be called exactly once.
func (r *Response) Flush() {
	if !r.flushed.CompareAndSwap(false, true) {
		Logger.Warningf("response %d of connection %d flushed twice", r.request.id, r.conn.id)
		return
	}
	r.serialize()
	r.conn.flush(r)
}

// serialize encodes the response into frames
func (r *Response) serialize() {
	if r.suppress {
		return
	}
	op := r.request.Header.Opcode
	opaque := r.request.Header.Opaque

	if r.request.Header.Opcode.Base() == protocol.OpStat && r.status == protocol.StatusNoError {
		r.out = make([][]byte, 0, 2*len(r.stats)+1)
		for _, e := range r.stats {
			hdr := make([]byte, protocol.HeaderLen, protocol.HeaderLen+len(e.Key)+len(e.Value))
			protocol.EncodeResponseHeader(hdr, op, protocol.StatusNoError, opaque, 0, 0, len(e.Key), len(e.Value))
			r.out = append(r.out, append(append(hdr, e.Key...), e.Value...))
		}
		term := make([]byte, protocol.HeaderLen)
		protocol.EncodeResponseHeader(term, op, protocol.StatusNoError, opaque, 0, 0, 0, 0)
		r.out = append(r.out, term)
		return
	}

	hdr := make([]byte, protocol.HeaderLen)
	protocol.EncodeResponseHeader(hdr, op, r.status, opaque, r.cas, len(r.extras), len(r.key), len(r.value))
	r.out = make([][]byte, 0, 4)
	r.out = append(r.out, hdr)
	for _, part := range [][]byte{r.extras, r.key, r.value} {
		if len(part) > 0 {
			r.out = append(r.out, part)
		}
	}
}

// dispose releases the request once the response is written or discarded
func (r *Response) dispose() {
	r.out = nil
	if err := r.request.Dispose(); err != nil {
		Logger.Warningf("request %d of connection %d: %v", r.request.id, r.conn.id, err)
	}
}
