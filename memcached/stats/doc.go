// Package stats collects the runtime statistics of the memcached front end.
//
// The Collector keeps the counters reported by the STAT command (connections,
// traffic, command and hit/miss counters) in a VictoriaMetrics metrics set,
// which is also exported in the Prometheus text format by the metrics endpoint
// of the server. Per opcode latencies are tracked with rcrowley/go-metrics
// timers and reported by the "timings" STAT group. Process level values
// (cpu time, resident memory, threads) are read with gopsutil.
package stats
