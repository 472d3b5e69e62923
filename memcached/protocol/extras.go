package protocol

import (
	"encoding/binary"
	"fmt"
)

// Extras sizes of the commands
const (
	StoreExtrasLen      = 8
	GetExtrasLen        = 4
	ArithmeticExtrasLen = 20
	TouchExtrasLen      = 4
	FlushExtrasLen      = 4
	VerbosityExtrasLen  = 4

	// NoAutoCreate as arithmetic expiration means the counter must exist
	NoAutoCreate uint32 = 0xffffffff
)

// StoreExtras are sent with set, add and replace
type StoreExtras struct {
	Flags      uint32
	Expiration uint32
}

// ArithmeticExtras are sent with increment and decrement
type ArithmeticExtras struct {
	Delta      uint64
	Initial    uint64
	Expiration uint32
}

func extrasError(op Opcode, want, got int) error {
	return fmt.Errorf("%s expects %d bytes of extras, got %d", op, want, got)
}

// ParseStoreExtras decodes set/add/replace extras
func ParseStoreExtras(op Opcode, b []byte) (StoreExtras, error) {
	if len(b) != StoreExtrasLen {
		return StoreExtras{}, extrasError(op, StoreExtrasLen, len(b))
	}
	return StoreExtras{
		Flags:      binary.BigEndian.Uint32(b[0:4]),
		Expiration: binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// Encode appends the extras to b
func (e StoreExtras) Encode(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, e.Flags)
	return binary.BigEndian.AppendUint32(b, e.Expiration)
}

// ParseArithmeticExtras decodes incr/decr extras
func ParseArithmeticExtras(op Opcode, b []byte) (ArithmeticExtras, error) {
	if len(b) != ArithmeticExtrasLen {
		return ArithmeticExtras{}, extrasError(op, ArithmeticExtrasLen, len(b))
	}
	return ArithmeticExtras{
		Delta:      binary.BigEndian.Uint64(b[0:8]),
		Initial:    binary.BigEndian.Uint64(b[8:16]),
		Expiration: binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// Encode appends the extras to b
func (e ArithmeticExtras) Encode(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, e.Delta)
	b = binary.BigEndian.AppendUint64(b, e.Initial)
	return binary.BigEndian.AppendUint32(b, e.Expiration)
}

// ParseUint32Extras decodes the single 32 bit field of touch, gat, flush and verbosity.
// If optional is set, missing extras decode as zero.
func ParseUint32Extras(op Opcode, b []byte, optional bool) (uint32, error) {
	if len(b) == 0 && optional {
		return 0, nil
	}
	if len(b) != 4 {
		return 0, extrasError(op, 4, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// EncodeUint32 encodes a single 32 bit extras field
func EncodeUint32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), v)
}

// EncodeUint64 encodes the counter value of an arithmetic response
func EncodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), v)
}
