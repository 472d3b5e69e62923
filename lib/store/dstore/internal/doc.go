// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of three components:
//
//   - Command: write operations (store, delete, arithmetic, touch, flush) that
//     modify the state of the cache. Commands are serialized and proposed to the
//     RAFT cluster. The proposing node stamps every command with its unix time so
//     that every replica applies it with the same clock.
//
//   - Result: the outcome of a command (new CAS token, counter value, touched
//     item). It travels back to the proposer in the Data field of the raft result,
//     the store return code travels in the Value field.
//
//   - Query: read operations executed locally on the state machine, they are not
//     serialized.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 1 byte: Store mode (set, add, replace, append, prepend)
//	- 1 byte: Arithmetic options (bit 0 increment, bit 1 create)
//	- 4 bytes: Flags
//	- 8 bytes each: ExpireAt, CAS, Now, Delta, Initial
//	- 4 bytes: Key length
//	- N bytes: Key data
//	- M bytes: Value data (optional)
//
//	All integers are big endian.
package internal
