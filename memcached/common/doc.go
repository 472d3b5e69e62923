// Package common provides the configuration and logging shared by the
// memcached front end, the cache stores and the command line interface.
//
// Key Components:
//
//   - ServerConfig: Configuration for a server node, including the store
//     backend, RAFT parameters, connection engine tuning (buffer sizes,
//     backlog watermarks, worker counts) and listener options.
//     Provides utilities for converting to Dragonboat-specific configurations.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
