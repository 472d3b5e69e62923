package internal

import (
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "store with value",
			command: Command{
				Type:     CommandTStore,
				Mode:     db.ModeAdd,
				Flags:    0xdeadbeef,
				ExpireAt: 1_700_000_100,
				CAS:      42,
				Now:      1_700_000_000,
				Key:      "testkey",
				Value:    []byte("testvalue"),
			},
		},
		{
			name:    "delete without value",
			command: Command{Type: CommandTDelete, Key: "testkey", CAS: 7, Now: 1},
		},
		{
			name: "arithmetic options",
			command: Command{
				Type:    CommandTArithmetic,
				Incr:    true,
				Create:  true,
				Delta:   ^uint64(0),
				Initial: 10,
				Key:     "counter",
			},
		},
		{
			name:    "flush without key",
			command: Command{Type: CommandTFlush, ExpireAt: 500, Now: 400},
		},
		{
			name:    "binary value and unicode key",
			command: Command{Type: CommandTStore, Key: "你好世界", Value: []byte{0, 1, 2, 254, 255}},
		},
		{
			name:    "negative expiration",
			command: Command{Type: CommandTTouch, Key: "k", ExpireAt: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()
			assert.Len(t, data, tt.command.SizeBytes())

			var decoded Command
			require.NoError(t, decoded.Deserialize(data))
			if len(tt.command.Value) == 0 {
				assert.Empty(t, decoded.Value)
				decoded.Value = tt.command.Value
			}
			assert.Equal(t, tt.command, decoded)
		})
	}
}

func TestCommandDeserializeErrors(t *testing.T) {
	var cmd Command
	assert.EqualError(t, cmd.Deserialize(nil), "data too short for command")
	assert.EqualError(t, cmd.Deserialize(make([]byte, commandHeaderLen-1)), "data too short for command")

	data := make([]byte, commandHeaderLen)
	binary.BigEndian.PutUint32(data[47:51], 1000)
	assert.EqualError(t, cmd.Deserialize(data), "data too short for key of length 1000")
}

func TestCommandBinaryFormat(t *testing.T) {
	cmd := Command{Type: CommandTStore, Mode: db.ModeReplace, Flags: 1, CAS: 2, Key: "ab", Value: []byte("c")}
	data := cmd.Serialize()

	assert.Equal(t, byte(CommandTStore), data[0])
	assert.Equal(t, byte(db.ModeReplace), data[1])
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(data[3:7]))
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(data[15:23]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[47:51]))
	assert.Equal(t, "abc", string(data[commandHeaderLen:]))
}

func TestCommandBufferReuse(t *testing.T) {
	cmd := Command{Value: make([]byte, 0, 64)}
	src := Command{Type: CommandTStore, Key: "k", Value: []byte("short")}
	require.NoError(t, cmd.Deserialize(src.Serialize()))
	assert.Equal(t, 64, cap(cmd.Value))
	assert.Equal(t, "short", string(cmd.Value))
}

func TestCommandFeatures(t *testing.T) {
	for ct := CommandTStore; ct <= CommandTFlush; ct++ {
		_, err := ct.ToDBFeature()
		assert.NoError(t, err, ct.String())
	}
	_, err := CommandType(99).ToDBFeature()
	assert.Error(t, err)
	assert.Equal(t, "Unknown(99)", CommandType(99).String())
}

func TestResultRoundTrip(t *testing.T) {
	res := Result{CAS: 9, Number: 10, Flags: 11, ExpireAt: 12, Value: []byte("value")}

	var decoded Result
	require.NoError(t, decoded.Deserialize(res.Serialize()))
	assert.Equal(t, res, decoded)
	assert.Equal(t, db.Item{Value: []byte("value"), Flags: 11, ExpireAt: 12, CAS: 9}, decoded.Item())

	assert.Error(t, decoded.Deserialize([]byte{1, 2}))
}
