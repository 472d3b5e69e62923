/*
Package client is a small blocking client for the memcached binary protocol.

It is used by the cli and the tests of the server. A Client owns one connection,
requests are serialized by a mutex. Do and Pipeline send raw frames, the typed
methods (Get, Set, Increment, ...) build the frames and decode the responses.

Error responses are returned as *StatusError, the common statuses can be
matched with errors.Is:

	_, err := c.Get(ctx, "missing")
	if errors.Is(err, client.ErrNotFound) {
		...
	}
*/
package client
