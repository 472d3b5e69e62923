// Package handler executes memcached requests.
//
// A Task binds one parsed request to the back end. It looks the opcode up in a
// fixed table, calls the matching IHandler method, converts errors and panics
// into error responses, applies the quiet rules and finally flushes the
// response into the ordering queue of its connection. Tasks of one connection
// may run on any worker in any order, the connection writes the responses in
// request order.
//
// StoreHandler is the IHandler that serves the requests from a store.IStore.
// It validates keys, values and extras, converts memcached expiration times,
// counts statistics and limits the number of pending requests (Backlog).
package handler
