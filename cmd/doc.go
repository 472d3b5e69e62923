// Package cmd implements the command-line interface of mcKV. It provides a
// hierarchical command structure with operations for running the memcached
// server and interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for cache operations (get, set, incr, stats, etc.)
//   - serve: Commands for starting and configuring the server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mckv -help for a list of all commands.
package cmd
