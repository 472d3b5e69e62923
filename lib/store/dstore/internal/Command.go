package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/mcKV/lib/db"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTStore      CommandType = iota // Write an item (set, add, replace, append, prepend).
	CommandTDelete                        // Delete an item.
	CommandTArithmetic                    // Increment or decrement a counter.
	CommandTTouch                         // Update the expiration of an item.
	CommandTFlush                         // Invalidate all items.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTStore:
		return "Store"
	case CommandTDelete:
		return "Delete"
	case CommandTArithmetic:
		return "Arithmetic"
	case CommandTTouch:
		return "Touch"
	case CommandTFlush:
		return "Flush"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTStore:
		return db.FeatureStore, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTArithmetic:
		return db.FeatureArithmetic, nil
	case CommandTTouch:
		return db.FeatureTouch, nil
	case CommandTFlush:
		return db.FeatureFlush, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

const (
	optIncr   = 1 << iota // arithmetic increments
	optCreate             // arithmetic creates missing counters
)

// commandHeaderLen is the size of the fixed part of a serialized command
const commandHeaderLen = 1 + 1 + 1 + 4 + 8 + 8 + 8 + 8 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// Now is the unix time of the proposing node, it is replicated so that all
// replicas evaluate expiration the same way.
type Command struct {
	Type     CommandType
	Mode     db.StoreMode
	Incr     bool
	Create   bool
	Flags    uint32
	ExpireAt int64
	CAS      uint64
	Now      int64
	Delta    uint64
	Initial  uint64
	Key      string
	Value    []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return commandHeaderLen + len(command.Key) + len(command.Value)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 1 byte for the store mode,
// 1 byte for arithmetic options,
// 4 bytes for flags,
// 8 bytes each for expireAt, cas, now, delta and initial,
// 4 bytes for key length,
// N bytes for key data,
// N bytes for value data (optional)
//
// All integers are big endian.
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	var opts byte
	if command.Incr {
		opts |= optIncr
	}
	if command.Create {
		opts |= optCreate
	}

	result[0] = byte(command.Type)
	result[1] = byte(command.Mode)
	result[2] = opts
	binary.BigEndian.PutUint32(result[3:7], command.Flags)
	binary.BigEndian.PutUint64(result[7:15], uint64(command.ExpireAt))
	binary.BigEndian.PutUint64(result[15:23], command.CAS)
	binary.BigEndian.PutUint64(result[23:31], uint64(command.Now))
	binary.BigEndian.PutUint64(result[31:39], command.Delta)
	binary.BigEndian.PutUint64(result[39:47], command.Initial)
	binary.BigEndian.PutUint32(result[47:51], uint32(len(command.Key)))

	n := copy(result[commandHeaderLen:], command.Key)
	copy(result[commandHeaderLen+n:], command.Value)
	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandHeaderLen {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Mode = db.StoreMode(data[1])
	command.Incr = data[2]&optIncr != 0
	command.Create = data[2]&optCreate != 0
	command.Flags = binary.BigEndian.Uint32(data[3:7])
	command.ExpireAt = int64(binary.BigEndian.Uint64(data[7:15]))
	command.CAS = binary.BigEndian.Uint64(data[15:23])
	command.Now = int64(binary.BigEndian.Uint64(data[23:31]))
	command.Delta = binary.BigEndian.Uint64(data[31:39])
	command.Initial = binary.BigEndian.Uint64(data[39:47])
	keyLen := int(binary.BigEndian.Uint32(data[47:51]))

	if len(data) < commandHeaderLen+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[commandHeaderLen : commandHeaderLen+keyLen])

	rest := data[commandHeaderLen+keyLen:]
	if len(rest) == 0 {
		command.Value = nil
		return nil
	}
	// Reuse existing buffer if possible to reduce allocations
	if cap(command.Value) < len(rest) {
		command.Value = make([]byte, len(rest))
	} else {
		command.Value = command.Value[:len(rest)]
	}
	copy(command.Value, rest)
	return nil
}
