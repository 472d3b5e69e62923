package conn

import (
	"github.com/ValentinKolb/mcKV/lib/buffer"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
)

// Request is one parsed frame. The body is a zero-copy view into the
// connection's read buffers, it is valid until the request is disposed.
type Request struct {
	Header   protocol.Header
	payload  *buffer.Segments
	id       uint64
	assoc    uint64
	response *Response
}

// ID is the sequence number of the request on its connection
func (r *Request) ID() uint64 {
	return r.id
}

// AssociationKey groups requests that must be executed in order (the connection id)
func (r *Request) AssociationKey() uint64 {
	return r.assoc
}

// Opcode returns the command of the request
func (r *Request) Opcode() protocol.Opcode {
	return r.Header.Opcode
}

// Opaque returns the value the client wants echoed in the response
func (r *Request) Opaque() uint32 {
	return r.Header.Opaque
}

// CAS returns the compare-and-swap value of the request
func (r *Request) CAS() uint64 {
	return r.Header.CAS
}

// Extras returns the extras of the request
func (r *Request) Extras() []byte {
	return r.payload.Slice(r.Header.ExtrasOffset(), int(r.Header.ExtrasLength))
}

// Key returns the key of the request
func (r *Request) Key() []byte {
	return r.payload.Slice(r.Header.KeyOffset(), int(r.Header.KeyLength))
}

// Value returns the value of the request
func (r *Request) Value() []byte {
	return r.payload.Slice(r.Header.ValueOffset(), r.Header.ValueLength())
}

// Response returns the response that belongs to this request
func (r *Request) Response() *Response {
	return r.response
}

// Dispose releases the body of the request. A second call returns buffer.ErrAlreadyDisposed.
func (r *Request) Dispose() error {
	return r.payload.Dispose()
}
