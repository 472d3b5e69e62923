/*
Package server runs the memcached binary protocol front end.

A Server accepts client connections on a tcp or unix socket listener and drives
one conn.Connection per client:

  - the reader goroutine reads from the socket, hands every parsed request as a
    handler.Task to the Executor and pauses while the handler reports a backlog,
  - the writer goroutine drains responses the workers could not write at once,
  - the Executor runs the tasks on a fixed worker pool. With ordered dispatch
    enabled all tasks of a connection run on the same worker.

The back end is a handler.StoreHandler over an lstore (in process maple engine)
or a dstore (RAFT replicated via dragonboat) depending on the configuration.
Prometheus metrics are served over http if a metrics endpoint is configured.

Usage:

	s, err := server.NewServer(config)
	if err != nil {
		panic(err)
	}
	if err := s.Serve(); err != nil {
		panic(err)
	}
*/
package server
