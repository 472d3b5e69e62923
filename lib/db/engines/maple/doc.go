// Package maple implements the in-memory cache engine behind mcKV. It provides
// an implementation of the db.KVDB interface with memcached item semantics.
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     shards, runs the garbage collector and keeps exact item and byte counters.
//     The write index is supplied by the caller (a local counter or the raft log
//     index), every write uses it as the new CAS value of the item. The engine
//     never reads the wall clock, the caller passes the current time with every
//     operation and the largest time seen is used as engine clock.
//
//   - Shard: A partition of the key space. Each shard owns a concurrent map
//     (xsync.MapOf), a min-heap of expiration times and an event queue that
//     feeds the garbage collector of the shard.
//
//   - FlushMark: flush_all does not touch the items. It stores a mark and every
//     read checks the item against it. An item is dead once the mark is due and
//     the item was written before the flush was issued or before it became due.
//     An immediate flush additionally removes all items right away.
//
// Garbage Collection:
//
// Each shard runs its own collector goroutine. Writes publish events to the
// shard's lock-free queue, the collector keeps the expiration heap current and
// removes items whose expiration time passed the engine clock. Due flush marks
// are swept once per mark.
//
// Persistence:
//
// Save writes a fuzzy snapshot of all live items in a binary format:
//
//	magic(8) version(1) writeIdx(8) clock(8) flushAt(8) flushIdx(8) count(8)
//	count * [keyLen(2) key flags(4) expireAt(8) written(8) cas(8) valueLen(4) value]
//
// Load replaces the whole content of the database and must not run concurrently
// with other operations.
package maple
