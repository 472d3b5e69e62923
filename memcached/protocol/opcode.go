package protocol

import "fmt"

// Opcode identifies the command of a frame
type Opcode uint8

const (
	OpGet        Opcode = 0x00
	OpSet        Opcode = 0x01
	OpAdd        Opcode = 0x02
	OpReplace    Opcode = 0x03
	OpDelete     Opcode = 0x04
	OpIncrement  Opcode = 0x05
	OpDecrement  Opcode = 0x06
	OpQuit       Opcode = 0x07
	OpFlush      Opcode = 0x08
	OpGetQ       Opcode = 0x09
	OpNoop       Opcode = 0x0a
	OpVersion    Opcode = 0x0b
	OpGetK       Opcode = 0x0c
	OpGetKQ      Opcode = 0x0d
	OpAppend     Opcode = 0x0e
	OpPrepend    Opcode = 0x0f
	OpStat       Opcode = 0x10
	OpSetQ       Opcode = 0x11
	OpAddQ       Opcode = 0x12
	OpReplaceQ   Opcode = 0x13
	OpDeleteQ    Opcode = 0x14
	OpIncrementQ Opcode = 0x15
	OpDecrementQ Opcode = 0x16
	OpQuitQ      Opcode = 0x17
	OpFlushQ     Opcode = 0x18
	OpAppendQ    Opcode = 0x19
	OpPrependQ   Opcode = 0x1a
	OpVerbosity  Opcode = 0x1b
	OpTouch      Opcode = 0x1c
	OpGAT        Opcode = 0x1d
	OpGATQ       Opcode = 0x1e
	OpSASLList   Opcode = 0x20
	OpSASLAuth   Opcode = 0x21
	OpSASLStep   Opcode = 0x22
	OpGATK       Opcode = 0x23
	OpGATKQ      Opcode = 0x24
)

var opcodeNames = map[Opcode]string{
	OpGet: "get", OpSet: "set", OpAdd: "add", OpReplace: "replace", OpDelete: "delete",
	OpIncrement: "incr", OpDecrement: "decr", OpQuit: "quit", OpFlush: "flush",
	OpGetQ: "getq", OpNoop: "noop", OpVersion: "version", OpGetK: "getk", OpGetKQ: "getkq",
	OpAppend: "append", OpPrepend: "prepend", OpStat: "stat", OpSetQ: "setq", OpAddQ: "addq",
	OpReplaceQ: "replaceq", OpDeleteQ: "deleteq", OpIncrementQ: "incrq", OpDecrementQ: "decrq",
	OpQuitQ: "quitq", OpFlushQ: "flushq", OpAppendQ: "appendq", OpPrependQ: "prependq",
	OpVerbosity: "verbosity", OpTouch: "touch", OpGAT: "gat", OpGATQ: "gatq",
	OpSASLList: "sasl_list", OpSASLAuth: "sasl_auth", OpSASLStep: "sasl_step",
	OpGATK: "gatk", OpGATKQ: "gatkq",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("unknown(0x%02x)", uint8(o))
}

// Known reports whether the opcode is part of the protocol
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// quietToBase maps the quiet variants to their loud opcode
var quietToBase = map[Opcode]Opcode{
	OpGetQ: OpGet, OpGetKQ: OpGetK, OpSetQ: OpSet, OpAddQ: OpAdd, OpReplaceQ: OpReplace,
	OpDeleteQ: OpDelete, OpIncrementQ: OpIncrement, OpDecrementQ: OpDecrement,
	OpQuitQ: OpQuit, OpFlushQ: OpFlush, OpAppendQ: OpAppend, OpPrependQ: OpPrepend,
	OpGATQ: OpGAT, OpGATKQ: OpGATK,
}

// IsQuiet reports whether the opcode is a quiet variant
func (o Opcode) IsQuiet() bool {
	_, ok := quietToBase[o]
	return ok
}

// Base returns the loud variant of a quiet opcode, or the opcode itself
func (o Opcode) Base() Opcode {
	if b, ok := quietToBase[o]; ok {
		return b
	}
	return o
}

// IsGetFamily reports whether the opcode reads an item (get, getk, gat, gatk and quiet variants)
func (o Opcode) IsGetFamily() bool {
	switch o.Base() {
	case OpGet, OpGetK, OpGAT, OpGATK:
		return true
	}
	return false
}
