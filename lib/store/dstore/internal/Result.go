package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/mcKV/lib/db"
)

// resultHeaderLen is the size of the fixed part of a serialized result
const resultHeaderLen = 8 + 8 + 4 + 8

// Result is the outcome of a Command. It is returned in the Data field of the
// raft result, the return code goes into the Value field.
type Result struct {
	CAS      uint64 // new CAS token of the item
	Number   uint64 // counter value of arithmetic commands
	Flags    uint32 // flags of the item (touch)
	ExpireAt int64  // expiration of the item (touch)
	Value    []byte // value of the item (touch) or an error message
}

// Item converts the result of a touch into an item
func (r *Result) Item() db.Item {
	return db.Item{Value: r.Value, Flags: r.Flags, ExpireAt: r.ExpireAt, CAS: r.CAS}
}

// Serialize serializes the result as cas(8) number(8) flags(4) expireAt(8) value
func (r *Result) Serialize() []byte {
	out := make([]byte, resultHeaderLen+len(r.Value))
	binary.BigEndian.PutUint64(out[0:8], r.CAS)
	binary.BigEndian.PutUint64(out[8:16], r.Number)
	binary.BigEndian.PutUint32(out[16:20], r.Flags)
	binary.BigEndian.PutUint64(out[20:28], uint64(r.ExpireAt))
	copy(out[resultHeaderLen:], r.Value)
	return out
}

// Deserialize extracts all Result fields from a byte array.
func (r *Result) Deserialize(data []byte) error {
	if len(data) < resultHeaderLen {
		return fmt.Errorf("data too short for result")
	}
	r.CAS = binary.BigEndian.Uint64(data[0:8])
	r.Number = binary.BigEndian.Uint64(data[8:16])
	r.Flags = binary.BigEndian.Uint32(data[16:20])
	r.ExpireAt = int64(binary.BigEndian.Uint64(data[20:28]))
	r.Value = append([]byte(nil), data[resultHeaderLen:]...)
	return nil
}
