package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/config"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// StoreType selects the cache backend behind the memcached front end
type StoreType string

const (
	// StoreTypeLocal keeps all items in process (lstore)
	StoreTypeLocal StoreType = "lstore"
	// StoreTypeReplicated replicates all writes with RAFT (dstore)
	StoreTypeReplicated StoreType = "dstore"
)

// ParseStoreType validates a store type given on the command line
func ParseStoreType(s string) (StoreType, error) {
	switch StoreType(strings.ToLower(s)) {
	case StoreTypeLocal:
		return StoreTypeLocal, nil
	case StoreTypeReplicated:
		return StoreTypeReplicated, nil
	default:
		return "", fmt.Errorf("invalid store type %q, must be one of %s, %s", s, StoreTypeLocal, StoreTypeReplicated)
	}
}

// ServerConfig holds all configuration parameters for a server node.
type ServerConfig struct {
	// Store selects the backend, ShardID is the RAFT shard used by dstore
	Store   StoreType
	ShardID uint64

	// Dragenboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote store parameters
	TimeoutSecond int64

	// Listener settings. Endpoint is host:port for tcp or a path prefixed with unix://
	Endpoint     string
	TCPNoDelay   bool
	TCPKeepAlive time.Duration
	ReusePort    bool

	// Connection engine settings
	Workers              int
	OrderedDispatch      bool
	BufferSize           int
	MaxBuffers           int32
	BufferAcquireTimeout time.Duration
	MaxValueBytes        int
	BacklogHigh          int64
	BacklogLow           int64
	WriteTimeout         time.Duration

	// MetricsEndpoint serves prometheus metrics if not empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a configuration for a single local node
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Store:                StoreTypeLocal,
		ShardID:              100,
		RTTMillisecond:       100,
		SnapshotEntries:      10_000,
		CompactionOverhead:   5_000,
		DataDir:              "/tmp/mckv",
		ReplicaID:            1,
		ClusterMembers:       map[uint64]string{1: "localhost:63001"},
		TimeoutSecond:        5,
		Endpoint:             ":11211",
		TCPNoDelay:           true,
		TCPKeepAlive:         30 * time.Second,
		Workers:              32,
		BufferSize:           16 * 1024,
		MaxBuffers:           0,
		BufferAcquireTimeout: time.Second,
		MaxValueBytes:        1024 * 1024,
		BacklogHigh:          1024,
		BacklogLow:           256,
		WriteTimeout:         50 * time.Millisecond,
		LogLevel:             "info",
	}
}

// Validate checks the configuration for values the server cannot work with
func (c *ServerConfig) Validate() error {
	if _, err := ParseStoreType(string(c.Store)); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.BufferSize < 24 {
		return fmt.Errorf("buffer size must be at least one header (24 bytes), got %d", c.BufferSize)
	}
	if c.MaxBuffers < 0 {
		return fmt.Errorf("max buffers must not be negative, got %d", c.MaxBuffers)
	}
	if c.MaxValueBytes <= 0 {
		return fmt.Errorf("max value size must be positive, got %d", c.MaxValueBytes)
	}
	if c.BacklogHigh > 0 && c.BacklogLow > c.BacklogHigh {
		return fmt.Errorf("backlog low watermark (%d) must not exceed the high watermark (%d)", c.BacklogLow, c.BacklogHigh)
	}
	if c.Store == StoreTypeReplicated {
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("replica id %d is not part of the cluster members", c.ReplicaID)
		}
	}
	return nil
}

// IsReplicated checks if the configuration uses the RAFT backed store
func (c *ServerConfig) IsReplicated() bool {
	return c.Store == StoreTypeReplicated
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Memcached Server")
	addField("Endpoint", c.Endpoint)
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", c.TCPKeepAlive.String())
	addField("Reuse Port", strconv.FormatBool(c.ReusePort))
	addField("Metrics Endpoint", c.MetricsEndpoint)

	addSection("Connection Engine")
	addField("Workers", strconv.Itoa(c.Workers))
	addField("Ordered Dispatch", strconv.FormatBool(c.OrderedDispatch))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.BufferSize))
	if c.MaxBuffers > 0 {
		addField("Max Buffers", strconv.Itoa(int(c.MaxBuffers)))
		addField("Acquire Timeout", c.BufferAcquireTimeout.String())
	} else {
		addField("Max Buffers", "unbounded")
	}
	addField("Max Value Size", fmt.Sprintf("%d bytes", c.MaxValueBytes))
	addField("Backlog Watermarks", fmt.Sprintf("high %d / low %d", c.BacklogHigh, c.BacklogLow))
	addField("Write Timeout", c.WriteTimeout.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Store")
	addField("Type", string(c.Store))

	if c.IsReplicated() {
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}
