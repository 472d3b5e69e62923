package internal

import (
	"fmt"

	"github.com/ValentinKolb/mcKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Event Types are used to signal changes in the database state
// --------------------------------------------------------------------------

type EventType int

const (
	EventTWrite EventType = iota
	EventTDelete
)

func (e EventType) String() string {
	switch e {
	case EventTWrite:
		return "Write"
	case EventTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type EventType
	Key  string
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Key: %q}", e.Type, e.Key)
}

// --------------------------------------------------------------------------
// Entry Type (item with metadata)
// --------------------------------------------------------------------------

// Entry stores a cached item
type Entry struct {
	Value    []byte
	Flags    uint32
	ExpireAt int64  // unix seconds, 0 = never
	Written  int64  // engine time of the last modification
	CAS      uint64 // write index of the last modification
}

// Expired reports whether the entry is expired at now
func (e Entry) Expired(now int64) bool {
	return e.ExpireAt != 0 && now >= e.ExpireAt
}

// FlushMark records a flush_all command
type FlushMark struct {
	At    int64  // entries die once the engine time reaches At
	Index uint64 // write index of the flush
}

// Kills reports whether the flush invalidates e at now
func (m *FlushMark) Kills(e Entry, now int64) bool {
	if m == nil || now < m.At {
		return false
	}
	return e.CAS <= m.Index || e.Written < m.At
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
type Shard struct {
	Data       *xsync.MapOf[string, Entry] // Map of entries
	ExpireHeap *util.MapHeap[string]       // owned by the garbage collector of the shard
	Events     *util.LockFreeMPSC[Event]

	// SweptFlush is the last flush mark the garbage collector applied to this shard
	SweptFlush *FlushMark
}

// NewShard creates a new shard with the provided hash function
func NewShard(hasher func(string, uint64) uint64) *Shard {
	return &Shard{
		Data:       xsync.NewMapOfWithHasher[string, Entry](hasher),
		ExpireHeap: util.NewMapHeap[string](),
		Events:     util.NewLockFreeMPSC[Event](),
	}
}

// GetShard returns the appropriate shard for a key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](hash uint64, shards []*T) *T {
	return shards[util.ShardIndex(hash, len(shards))]
}
