// Package db provides the interface for the cache engines behind the memcached
// front end. It defines the KVDB interface that allows for consistent interaction
// with various engines while abstracting implementation details.
//
// The package focuses on:
//   - memcached item semantics (flags, expiration, CAS tokens)
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//   - Metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all engines must satisfy.
//     It provides conditional writes (Store with set, add, replace, append and
//     prepend semantics), Delete, Arithmetic (incr/decr), Touch, FlushAll and Get,
//     plus persistence (Save, Load) and metadata (GetInfo).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: The DatabaseInfo structure reports the number of items,
//     the stored bytes and implementation specific metadata.
//
// Note on Time:
//   - Every operation takes a now parameter (unix seconds). Engines never read the
//     wall clock themselves, so replicas that apply the same commands with the
//     same now values end up in the same state.
//   - The largest now seen is the engine clock. It drives the background removal
//     of expired and flushed items. Reads never return an item that is expired
//     or flushed at their own now, even if it was not collected yet.
//
// Note on the Write Index:
//   - All write operations take a write index. It is the CAS token of the item
//     written by the operation, so it must be unique per write. The engine
//     remembers the largest write index (WriteIdx), callers use it to continue
//     after a restart or snapshot recovery.
//
// Related Packages:
//
// The engines/maple package provides a sharded in-memory implementation, the util
// package the data structures used by it (MapHeap, LockFreeMPSC) and the testing
// package a conformance suite and benchmarks for KVDB implementations.
package db
