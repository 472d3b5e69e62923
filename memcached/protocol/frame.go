package protocol

import (
	"fmt"
	"io"
)

// Frame is a fully decoded frame, used by clients and tests
type Frame struct {
	Header Header
	Extras []byte
	Key    []byte
	Value  []byte
}

// NewRequest creates a request frame
func NewRequest(op Opcode, opaque uint32, cas uint64, extras, key, value []byte) *Frame {
	return &Frame{
		Header: Header{
			Magic:        MagicRequest,
			Opcode:       op,
			KeyLength:    uint16(len(key)),
			ExtrasLength: uint8(len(extras)),
			BodyLength:   int32(len(extras) + len(key) + len(value)),
			Opaque:       opaque,
			CAS:          cas,
		},
		Extras: extras,
		Key:    key,
		Value:  value,
	}
}

// Status returns the status of a response frame
func (f *Frame) Status() Status {
	return f.Header.Status()
}

// AppendTo appends the encoded frame to b
func (f *Frame) AppendTo(b []byte) []byte {
	var hdr [HeaderLen]byte
	f.Header.Encode(hdr[:])
	b = append(b, hdr[:]...)
	b = append(b, f.Extras...)
	b = append(b, f.Key...)
	return append(b, f.Value...)
}

// Bytes returns the encoded frame
func (f *Frame) Bytes() []byte {
	return f.AppendTo(make([]byte, 0, HeaderLen+f.Header.BodyLen()))
}

// ReadFrame reads one response frame from r
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := ParseResponseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	body := make([]byte, h.BodyLen())
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read body of %s response: %w", h.Opcode, err)
	}
	return &Frame{
		Header: h,
		Extras: body[:h.ExtrasLength],
		Key:    body[h.KeyOffset():h.ValueOffset()],
		Value:  body[h.ValueOffset():],
	}, nil
}
