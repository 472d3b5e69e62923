// Package protocol implements the memcached binary protocol wire format:
// the 24 byte frame header, opcodes, status codes and the extras layouts of
// the individual commands.
//
// All multi-byte fields are big-endian. Requests carry the magic byte 0x80,
// responses 0x81. In responses the reserved header field holds the status.
//
// The package is used by the server side connection engine (ParseHeader,
// EncodeResponseHeader) and by the client (Frame, ReadFrame).
package protocol
