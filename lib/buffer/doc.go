// Package buffer provides pooled, reference counted byte buffers and the
// zero-copy segment views the connection engine carves out of them.
//
// A SharedBuffer is held by the connection that reads into it and by every
// Segment that was carved from it. The underlying Buffer is returned to its
// IProvider once the connection detached the buffer and all segments are
// disposed. Disposing a segment twice is reported with ErrAlreadyDisposed,
// reading a released segment panics with ErrUseAfterRelease.
//
// Two providers are available:
//
//   - NewPool: unbounded, backed by sync.Pool
//   - NewBoundedPool: bounded number of buffers, backed by jackc/puddle.
//     Acquire waits up to a timeout for a buffer to become free.
package buffer
