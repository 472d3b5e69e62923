// Package util provides the data structures and helpers used by the cache
// engines that satisfy the db.KVDB interface.
//
// The package contains:
//   - functions: seed generation and xxh3 based key hashing
//   - mapheap: a min heap with key based access, used to schedule item expiry
//   - mpsc: a lock-free multi-producer single-consumer queue that carries
//     write and delete events to the per shard garbage collector
package util
