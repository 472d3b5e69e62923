package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLen is the size of every frame header
	HeaderLen = 24

	// MagicRequest marks client to server frames
	MagicRequest byte = 0x80
	// MagicResponse marks server to client frames
	MagicResponse byte = 0x81

	// MaxKeyLength is the longest key memcached accepts
	MaxKeyLength = 250
)

// Header is the fixed size part of every frame
type Header struct {
	Magic        byte
	Opcode       Opcode
	KeyLength    uint16
	ExtrasLength uint8
	DataType     uint8
	// Reserved holds the vbucket id in requests and the Status in responses
	Reserved   uint16
	BodyLength int32
	Opaque     uint32
	CAS        uint64
}

// BodyLen returns the length of the body. A negative body length on the
// wire is interpreted as its absolute value.
func (h *Header) BodyLen() int {
	n := int64(h.BodyLength)
	if n < 0 {
		n = -n
	}
	return int(n)
}

// ExtrasOffset is the body offset of the extras
func (h *Header) ExtrasOffset() int { return 0 }

// KeyOffset is the body offset of the key
func (h *Header) KeyOffset() int { return int(h.ExtrasLength) }

// ValueOffset is the body offset of the value
func (h *Header) ValueOffset() int { return int(h.ExtrasLength) + int(h.KeyLength) }

// ValueLength is the number of value bytes in the body
func (h *Header) ValueLength() int {
	return h.BodyLen() - int(h.KeyLength) - int(h.ExtrasLength)
}

// Status interprets the reserved field of a response
func (h *Header) Status() Status {
	return Status(h.Reserved)
}

// ParseHeader decodes a request header. The buffer must hold at least HeaderLen bytes.
// Frames that do not start with the request magic or whose key and extras do
// not fit into the body are rejected with a *ProtocolError.
func ParseHeader(b []byte) (Header, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return h, err
	}
	if h.Magic != MagicRequest {
		return h, &ProtocolError{Reason: ErrInvalidMagic, Detail: fmt.Sprintf("0x%02x", h.Magic)}
	}
	if h.ValueLength() < 0 {
		return h, &ProtocolError{
			Reason: ErrInvalidLength,
			Detail: fmt.Sprintf("key (%d) and extras (%d) exceed body (%d)", h.KeyLength, h.ExtrasLength, h.BodyLen()),
		}
	}
	return h, nil
}

// ParseResponseHeader decodes a response header
func ParseResponseHeader(b []byte) (Header, error) {
	h, err := decodeHeader(b)
	if err != nil {
		return h, err
	}
	if h.Magic != MagicResponse {
		return h, &ProtocolError{Reason: ErrInvalidMagic, Detail: fmt.Sprintf("0x%02x", h.Magic)}
	}
	if h.ValueLength() < 0 {
		return h, &ProtocolError{Reason: ErrInvalidLength, Detail: "key and extras exceed body"}
	}
	return h, nil
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, &ProtocolError{Reason: ErrShortHeader, Detail: fmt.Sprintf("%d bytes", len(b))}
	}
	return Header{
		Magic:        b[0],
		Opcode:       Opcode(b[1]),
		KeyLength:    binary.BigEndian.Uint16(b[2:4]),
		ExtrasLength: b[4],
		DataType:     b[5],
		Reserved:     binary.BigEndian.Uint16(b[6:8]),
		BodyLength:   int32(binary.BigEndian.Uint32(b[8:12])),
		Opaque:       binary.BigEndian.Uint32(b[12:16]),
		CAS:          binary.BigEndian.Uint64(b[16:24]),
	}, nil
}

// Encode writes the header into b, which must hold at least HeaderLen bytes
func (h *Header) Encode(b []byte) {
	_ = b[HeaderLen-1]
	b[0] = h.Magic
	b[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(b[2:4], h.KeyLength)
	b[4] = h.ExtrasLength
	b[5] = h.DataType
	binary.BigEndian.PutUint16(b[6:8], h.Reserved)
	binary.BigEndian.PutUint32(b[8:12], uint32(h.BodyLength))
	binary.BigEndian.PutUint32(b[12:16], h.Opaque)
	binary.BigEndian.PutUint64(b[16:24], h.CAS)
}

// EncodeResponseHeader writes a response header for the given parts into b
func EncodeResponseHeader(b []byte, op Opcode, status Status, opaque uint32, cas uint64, extrasLen, keyLen, valueLen int) {
	h := Header{
		Magic:        MagicResponse,
		Opcode:       op,
		KeyLength:    uint16(keyLen),
		ExtrasLength: uint8(extrasLen),
		Reserved:     uint16(status),
		BodyLength:   int32(extrasLen + keyLen + valueLen),
		Opaque:       opaque,
		CAS:          cas,
	}
	h.Encode(b)
}
