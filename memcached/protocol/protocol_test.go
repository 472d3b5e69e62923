package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		keyLen := uint16(rnd.Intn(MaxKeyLength + 1))
		extrasLen := uint8(rnd.Intn(21))
		valueLen := rnd.Intn(1 << 20)
		h := Header{
			Magic:        MagicRequest,
			Opcode:       Opcode(rnd.Intn(0x25)),
			KeyLength:    keyLen,
			ExtrasLength: extrasLen,
			DataType:     0,
			Reserved:     uint16(rnd.Intn(1 << 16)),
			BodyLength:   int32(int(keyLen) + int(extrasLen) + valueLen),
			Opaque:       rnd.Uint32(),
			CAS:          rnd.Uint64(),
		}
		var b [HeaderLen]byte
		h.Encode(b[:])

		parsed, err := ParseHeader(b[:])
		require.NoError(t, err)
		assert.Equal(t, h, parsed)
		assert.Equal(t, valueLen, parsed.ValueLength())
	}
}

func TestHeaderOffsets(t *testing.T) {
	h := Header{Magic: MagicRequest, KeyLength: 3, ExtrasLength: 8, BodyLength: 16}
	assert.Equal(t, 0, h.ExtrasOffset())
	assert.Equal(t, 8, h.KeyOffset())
	assert.Equal(t, 11, h.ValueOffset())
	assert.Equal(t, 5, h.ValueLength())
}

func TestNegativeBodyLengthUsesAbsoluteValue(t *testing.T) {
	h := Header{Magic: MagicRequest, Opcode: OpSet, KeyLength: 1, BodyLength: -10}
	var b [HeaderLen]byte
	h.Encode(b[:])

	parsed, err := ParseHeader(b[:])
	require.NoError(t, err)
	assert.Equal(t, int32(-10), parsed.BodyLength)
	assert.Equal(t, 10, parsed.BodyLen())
	assert.Equal(t, 9, parsed.ValueLength())
}

func TestParseHeaderRejectsInvalidFrames(t *testing.T) {
	var b [HeaderLen]byte
	(&Header{Magic: 0x42}).Encode(b[:])
	_, err := ParseHeader(b[:])
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	(&Header{Magic: MagicRequest, KeyLength: 10, ExtrasLength: 4, BodyLength: 8}).Encode(b[:])
	_, err = ParseHeader(b[:])
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = ParseHeader(b[:10])
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestResponseHeaderCarriesStatus(t *testing.T) {
	var b [HeaderLen]byte
	EncodeResponseHeader(b[:], OpGet, StatusKeyNotFound, 0xdeadbeef, 7, 4, 0, 9)
	assert.Equal(t, MagicResponse, b[0])

	h, err := ParseResponseHeader(b[:])
	require.NoError(t, err)
	assert.Equal(t, StatusKeyNotFound, h.Status())
	assert.Equal(t, uint32(0xdeadbeef), h.Opaque)
	assert.Equal(t, uint64(7), h.CAS)
	assert.Equal(t, 13, h.BodyLen())
}

func TestOpcodeVariants(t *testing.T) {
	assert.True(t, OpGetKQ.IsQuiet())
	assert.Equal(t, OpGetK, OpGetKQ.Base())
	assert.True(t, OpGATKQ.IsGetFamily())
	assert.False(t, OpSet.IsQuiet())
	assert.Equal(t, OpSet, OpSet.Base())
	assert.False(t, OpNoop.IsGetFamily())
	assert.Equal(t, "setq", OpSetQ.String())
	assert.False(t, Opcode(0x7f).Known())
	assert.Equal(t, "unknown(0x7f)", Opcode(0x7f).String())
}

func TestExtras(t *testing.T) {
	se := StoreExtras{Flags: 0xcafe, Expiration: 60}
	parsed, err := ParseStoreExtras(OpSet, se.Encode(nil))
	require.NoError(t, err)
	assert.Equal(t, se, parsed)

	ae := ArithmeticExtras{Delta: 5, Initial: 10, Expiration: NoAutoCreate}
	pa, err := ParseArithmeticExtras(OpIncrement, ae.Encode(nil))
	require.NoError(t, err)
	assert.Equal(t, ae, pa)

	_, err = ParseStoreExtras(OpSet, []byte{1, 2})
	assert.Error(t, err)

	v, err := ParseUint32Extras(OpFlush, nil, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
	_, err = ParseUint32Extras(OpTouch, nil, false)
	assert.Error(t, err)
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	var hdr [HeaderLen]byte
	EncodeResponseHeader(hdr[:], OpGetK, StatusNoError, 3, 11, 4, 3, 5)
	buf.Write(hdr[:])
	buf.Write(EncodeUint32(9))
	buf.WriteString("keyvalue")

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusNoError, f.Status())
	assert.Equal(t, []byte{0, 0, 0, 9}, f.Extras)
	assert.Equal(t, "key", string(f.Key))
	assert.Equal(t, "value", string(f.Value))

	req := NewRequest(OpSet, 1, 0, StoreExtras{}.Encode(nil), []byte("k"), []byte("v"))
	enc := req.Bytes()
	assert.Len(t, enc, HeaderLen+10)
	h, err := ParseHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, 10, h.BodyLen())
}
