package stats

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcKV/memcached/protocol"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/shirou/gopsutil/v4/process"
)

var log = logger.GetLogger("stats")

// Entry is a single STAT key value pair
type Entry struct {
	Key   string
	Value string
}

// Counter names, they are also the STAT keys
const (
	CmdGet       = "cmd_get"
	CmdSet       = "cmd_set"
	CmdFlush     = "cmd_flush"
	CmdTouch     = "cmd_touch"
	GetHits      = "get_hits"
	GetMisses    = "get_misses"
	DeleteHits   = "delete_hits"
	DeleteMisses = "delete_misses"
	IncrHits     = "incr_hits"
	IncrMisses   = "incr_misses"
	DecrHits     = "decr_hits"
	DecrMisses   = "decr_misses"
	CasHits      = "cas_hits"
	CasBadval    = "cas_badval"
	CasMisses    = "cas_misses"
	TouchHits    = "touch_hits"
	TouchMisses  = "touch_misses"
	AuthCmds     = "auth_cmds"
	AuthErrors   = "auth_errors"
)

// counterNames lists the counters in the order they are reported
var counterNames = []string{
	CmdGet, CmdSet, CmdFlush, CmdTouch,
	GetHits, GetMisses, DeleteMisses, DeleteHits,
	IncrMisses, IncrHits, DecrMisses, DecrHits,
	CasMisses, CasHits, CasBadval, TouchHits, TouchMisses,
	AuthCmds, AuthErrors,
}

// Collector gathers the statistics of one server instance.
// All methods are safe for concurrent use.
type Collector struct {
	id      string
	version string
	started time.Time
	proc    *process.Process

	set          *vm.Set
	counters     map[string]*vm.Counter
	currConns    atomic.Int64
	totalConns   *vm.Counter
	rejected     *vm.Counter
	bytesRead    *vm.Counter
	bytesWritten *vm.Counter
	requestSize  *vm.Histogram

	timings gometrics.Registry

	items func() (count, size int64)
}

// NewCollector creates a collector. items reports the number of items and
// their size in bytes, it may be nil.
func NewCollector(version string, items func() (count, size int64)) *Collector {
	c := &Collector{
		id:       uuid.New().String(),
		version:  version,
		started:  time.Now(),
		set:      vm.NewSet(),
		counters: make(map[string]*vm.Counter, len(counterNames)),
		timings:  gometrics.NewRegistry(),
		items:    items,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warningf("process statistics unavailable: %v", err)
	} else {
		c.proc = proc
	}

	for _, name := range counterNames {
		c.counters[name] = c.set.GetOrCreateCounter(fmt.Sprintf(`mckv_commands_total{counter=%q}`, name))
	}
	c.totalConns = c.set.GetOrCreateCounter("mckv_connections_total")
	c.rejected = c.set.GetOrCreateCounter("mckv_rejected_connections_total")
	c.bytesRead = c.set.GetOrCreateCounter("mckv_read_bytes_total")
	c.bytesWritten = c.set.GetOrCreateCounter("mckv_written_bytes_total")
	c.requestSize = c.set.GetOrCreateHistogram("mckv_request_size_bytes")
	c.set.GetOrCreateGauge("mckv_current_connections", func() float64 {
		return float64(c.currConns.Load())
	})
	c.set.GetOrCreateGauge("mckv_uptime_seconds", func() float64 {
		return time.Since(c.started).Seconds()
	})
	if items != nil {
		c.set.GetOrCreateGauge("mckv_current_items", func() float64 {
			count, _ := items()
			return float64(count)
		})
		c.set.GetOrCreateGauge("mckv_item_bytes", func() float64 {
			_, size := items()
			return float64(size)
		})
	}
	return c
}

// InstanceID returns the random id of this server instance
func (c *Collector) InstanceID() string {
	return c.id
}

// --------------------------------------------------------------------------
// Recording
// --------------------------------------------------------------------------

// Incr increments a named counter, unknown names are ignored
func (c *Collector) Incr(name string) {
	if counter, ok := c.counters[name]; ok {
		counter.Inc()
	}
}

// Count returns the value of a named counter
func (c *Collector) Count(name string) uint64 {
	if counter, ok := c.counters[name]; ok {
		return counter.Get()
	}
	return 0
}

// ConnectionOpened records a new client connection
func (c *Collector) ConnectionOpened() {
	c.currConns.Add(1)
	c.totalConns.Inc()
}

// ConnectionClosed records a closed client connection
func (c *Collector) ConnectionClosed() {
	c.currConns.Add(-1)
}

// ConnectionRejected records a connection that was refused (server closing or limit reached)
func (c *Collector) ConnectionRejected() {
	c.rejected.Inc()
}

// CurrentConnections returns the number of open connections
func (c *Collector) CurrentConnections() int64 {
	return c.currConns.Load()
}

// BytesRead records bytes read from a client
func (c *Collector) BytesRead(n int) {
	c.bytesRead.Add(n)
}

// BytesWritten records bytes written to a client
func (c *Collector) BytesWritten(n int) {
	c.bytesWritten.Add(n)
}

// ObserveRequest records the latency of a request since start and its body size
func (c *Collector) ObserveRequest(op protocol.Opcode, bodyLen int, start time.Time) {
	gometrics.GetOrRegisterTimer(op.Base().String(), c.timings).UpdateSince(start)
	c.requestSize.Update(float64(bodyLen))
}

// --------------------------------------------------------------------------
// Reporting
// --------------------------------------------------------------------------

// General returns the entries of the default STAT group
func (c *Collector) General() []Entry {
	now := time.Now()
	entries := []Entry{
		{"pid", strconv.Itoa(os.Getpid())},
		{"uptime", strconv.FormatInt(int64(now.Sub(c.started).Seconds()), 10)},
		{"time", strconv.FormatInt(now.Unix(), 10)},
		{"version", c.version},
		{"instance_id", c.id},
		{"pointer_size", strconv.Itoa(32 << (^uintptr(0) >> 63))},
	}
	entries = append(entries, c.processEntries()...)
	entries = append(entries,
		Entry{"curr_connections", strconv.FormatInt(c.currConns.Load(), 10)},
		Entry{"total_connections", strconv.FormatUint(c.totalConns.Get(), 10)},
		Entry{"rejected_connections", strconv.FormatUint(c.rejected.Get(), 10)},
	)
	for _, name := range counterNames {
		entries = append(entries, Entry{name, strconv.FormatUint(c.counters[name].Get(), 10)})
	}
	entries = append(entries,
		Entry{"bytes_read", strconv.FormatUint(c.bytesRead.Get(), 10)},
		Entry{"bytes_written", strconv.FormatUint(c.bytesWritten.Get(), 10)},
		Entry{"goroutines", strconv.Itoa(runtime.NumGoroutine())},
	)
	if c.items != nil {
		count, size := c.items()
		entries = append(entries,
			Entry{"curr_items", strconv.FormatInt(count, 10)},
			Entry{"bytes", strconv.FormatInt(size, 10)},
		)
	}
	return entries
}

// processEntries reads cpu time, memory and thread count of the process
func (c *Collector) processEntries() []Entry {
	if c.proc == nil {
		return nil
	}
	var entries []Entry
	if times, err := c.proc.Times(); err == nil {
		entries = append(entries,
			Entry{"rusage_user", strconv.FormatFloat(times.User, 'f', 6, 64)},
			Entry{"rusage_system", strconv.FormatFloat(times.System, 'f', 6, 64)},
		)
	}
	if mem, err := c.proc.MemoryInfo(); err == nil {
		entries = append(entries, Entry{"rss", strconv.FormatUint(mem.RSS, 10)})
	}
	if threads, err := c.proc.NumThreads(); err == nil {
		entries = append(entries, Entry{"threads", strconv.Itoa(int(threads))})
	}
	return entries
}

// Timings returns the latency statistics per opcode in microseconds
func (c *Collector) Timings() []Entry {
	var names []string
	c.timings.Each(func(name string, _ interface{}) {
		names = append(names, name)
	})
	sort.Strings(names)

	var entries []Entry
	for _, name := range names {
		timer, ok := c.timings.Get(name).(gometrics.Timer)
		if !ok {
			continue
		}
		snap := timer.Snapshot()
		ps := snap.Percentiles([]float64{0.5, 0.99})
		entries = append(entries,
			Entry{name + ":count", strconv.FormatInt(snap.Count(), 10)},
			Entry{name + ":mean_us", strconv.FormatFloat(snap.Mean()/1e3, 'f', 1, 64)},
			Entry{name + ":p50_us", strconv.FormatFloat(ps[0]/1e3, 'f', 1, 64)},
			Entry{name + ":p99_us", strconv.FormatFloat(ps[1]/1e3, 'f', 1, 64)},
			Entry{name + ":rate1m", strconv.FormatFloat(snap.Rate1(), 'f', 2, 64)},
		)
	}
	return entries
}

// WritePrometheus writes all counters in the Prometheus text exposition format
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
