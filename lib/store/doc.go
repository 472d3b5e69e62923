// Package store provides the cache store used by the memcached front end. It
// serves as an abstraction layer over the lower-level db.KVDB implementations,
// adding write index management, the engine clock and standardized error
// reporting.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining the memcached item
//     operations (store, delete, arithmetic, touch, flush and get). All
//     implementations share this common interface, the front end does not know
//     whether it talks to a local or a replicated cache.
//
//   - Error System: A structured error reporting mechanism using typed return
//     codes. Conditional operations report their outcome (not found, exists,
//     not stored, non numeric) as *Error values, FromStatus converts the status
//     of an engine operation. Errors can be matched by code with errors.Is.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances.
//
// Implementations:
//
//	- Local Store (lstore): directly utilizes a db.KVDB instance and manages the
//	  write index with an atomic counter. Suitable for single-node deployments.
//	  Available in the "github.com/ValentinKolb/mcKV/lib/store/lstore" package.
//
//	- Distributed Store (dstore): built on the Dragonboat RAFT consensus library.
//	  Every write is a raft log entry, the log index is the write index and
//	  therefore the CAS token of the item on every replica.
//	  Available in the "github.com/ValentinKolb/mcKV/lib/store/dstore" package.
package store
