// Package conn implements the per connection protocol engine of the memcached
// front end.
//
// A Connection incrementally parses request frames from a Socket into pooled,
// reference counted buffers. Every parsed Request gets a Response that is
// appended to the connection's ResponseQueue before the request is handed to
// a worker. Workers complete responses in any order, the queue makes sure they
// reach the socket in request order without a queue wide lock:
//
//   - the worker that completes the response at the head of the queue writes it
//     and keeps writing every following response that is already complete
//   - a worker that completes a response further back marks it deferred and
//     leaves, the writer of its predecessor picks it up
//
// Responses that cannot be written completely are moved to a delegated write
// queue that is drained by the connection's writer goroutine.
//
// FlowControl couples the read side to the backlog of the cache backend:
// reads are paused while the backend is congested and resumed by a
// continuation, without losing a wakeup that races with the pause.
package conn
