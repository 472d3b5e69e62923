package common

// Version is reported by the memcached version command and the cli.
// It is overwritten at build time with -ldflags "-X ...common.Version=..."
var Version = "0.1.0-dev"
