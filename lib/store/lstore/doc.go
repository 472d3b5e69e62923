// Package lstore implements a local, in-memory, single-node cache store based on
// the store.IStore interface. It provides a thin wrapper around any db.KVDB
// implementation with automatic write index management. Data is stored entirely
// in memory and is not persisted between process restarts.
//
// Implementation Details:
//
//   - Write Index Management: The store maintains an atomic counter that
//     increments with each write operation. The index becomes the CAS token of
//     the written item, so tokens are unique for the lifetime of the store.
//
//   - Clock: The store passes the current unix time to the engine with every
//     operation. The engine keeps the largest time seen as its clock, expiry and
//     delayed flushes are evaluated against it.
//
//   - Feature Detection: Before executing operations, the store checks if the
//     underlying db.KVDB implementation supports the requested feature. Unsupported
//     operations return RetCUnsupportedOperation.
//
// Usage Example:
//
//	factory := func() db.KVDB { return maple.NewMapleDB(nil) }
//	cache := lstore.NewLocalStore(factory)
//
//	// store a value that expires in five minutes
//	cas, err := cache.Store(db.ModeSet, "session:123", db.Item{
//		Value:    sessionData,
//		ExpireAt: time.Now().Add(5 * time.Minute).Unix(),
//	}, 0)
//
//	// retrieve the value
//	item, exists, err := cache.Get("session:123")
//
// For distributed scenarios requiring consensus across multiple nodes, consider
// using the dstore package instead, which provides a RAFT-based implementation
// of the same interface.
package lstore
