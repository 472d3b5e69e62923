package serve

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/mcKV/cmd/util"
	"github.com/ValentinKolb/mcKV/lib/db/util"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/ValentinKolb/mcKV/memcached/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the mcKV server",
		Long:    `Start the mcKV memcached server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is MCKV_<flag> (e.g. MCKV_MAX_VALUE_SIZE=2097152)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnv)

	d := common.DefaultServerConfig()
	flags := ServeCmd.PersistentFlags()

	// listener
	key := "endpoint"
	flags.String(key, d.Endpoint, cmdUtil.WrapString("The address the server listens on: host:port for tcp or unix:///path/to/socket"))
	key = "tcp-nodelay"
	flags.Bool(key, d.TCPNoDelay, cmdUtil.WrapString("Disable Nagle's algorithm on client connections"))
	key = "tcp-keepalive"
	flags.Duration(key, d.TCPKeepAlive, cmdUtil.WrapString("Keep alive period of client connections, 0 disables keep alive"))
	key = "reuse-port"
	flags.Bool(key, d.ReusePort, cmdUtil.WrapString("Set SO_REUSEPORT so several processes can share the port"))
	key = "metrics-endpoint"
	flags.String(key, d.MetricsEndpoint, cmdUtil.WrapString("Serve prometheus metrics on http://<address>/metrics, empty disables it"))

	// connection engine
	key = "workers"
	flags.Int(key, d.Workers, cmdUtil.WrapString("Number of worker goroutines executing requests"))
	key = "ordered-dispatch"
	flags.Bool(key, d.OrderedDispatch, cmdUtil.WrapString("Execute all requests of a connection on the same worker in arrival order"))
	key = "buffer-size"
	flags.Int(key, d.BufferSize, cmdUtil.WrapString("Size of the pooled read buffers in bytes"))
	key = "max-buffers"
	flags.Int32(key, d.MaxBuffers, cmdUtil.WrapString("Maximum number of read buffers in use, 0 means unbounded"))
	key = "buffer-acquire-timeout"
	flags.Duration(key, d.BufferAcquireTimeout, cmdUtil.WrapString("How long a read waits for a free buffer if max-buffers is reached"))
	key = "max-value-size"
	flags.Int(key, d.MaxValueBytes, cmdUtil.WrapString("Largest accepted value in bytes"))
	key = "backlog-high"
	flags.Int64(key, d.BacklogHigh, cmdUtil.WrapString("Pending requests at which reading from clients pauses, 0 disables the limit"))
	key = "backlog-low"
	flags.Int64(key, d.BacklogLow, cmdUtil.WrapString("Pending requests at which paused clients resume reading"))
	key = "write-timeout"
	flags.Duration(key, d.WriteTimeout, cmdUtil.WrapString("How long a worker writes to a slow client before the write is handed to the connection's writer"))

	// store
	key = "store"
	flags.String(key, string(d.Store), cmdUtil.WrapString("The cache backend: lstore (in process) or dstore (replicated with RAFT)"))
	key = "shard-id"
	flags.Uint64(key, d.ShardID, cmdUtil.WrapString("(dstore) ID of the RAFT shard holding the cache"))
	key = "timeout"
	flags.Int64(key, d.TimeoutSecond, cmdUtil.WrapString("(dstore) Timeout in seconds of RAFT proposals and reads"))

	key = "rtt-millisecond"
	flags.Uint64(key, d.RTTMillisecond, cmdUtil.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Other raft configuration parameters (ElectionRTT=value*10, HeartbeatRTT=value) are derived from this value"))
	key = "snapshot-entries"
	flags.Uint64(key, d.SnapshotEntries, cmdUtil.WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))
	key = "compaction-overhead"
	flags.Uint64(key, d.CompactionOverhead, cmdUtil.WrapString("(dstore) CompactionOverhead defines the number of log entries kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))
	key = "data-dir"
	flags.String(key, d.DataDir, cmdUtil.WrapString("(dstore) DataDir is the directory used for storing the RAFT log and snapshots"))
	key = "replica-id"
	flags.String(key, "", cmdUtil.WrapString("(dstore) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))
	key = "cluster-members"
	flags.String(key, "", cmdUtil.WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "log-level"
	flags.String(key, d.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig binds the flags to viper and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	config, err := readConfig()
	if err != nil {
		return err
	}
	serveCmdConfig = config
	return nil
}

// readConfig reads the configuration from the command line flags and environment variables
func readConfig() (common.ServerConfig, error) {
	config := common.DefaultServerConfig()

	storeType, err := common.ParseStoreType(viper.GetString("store"))
	if err != nil {
		return config, err
	}
	config.Store = storeType
	config.ShardID = viper.GetUint64("shard-id")
	config.TimeoutSecond = viper.GetInt64("timeout")

	config.Endpoint = viper.GetString("endpoint")
	config.TCPNoDelay = viper.GetBool("tcp-nodelay")
	config.TCPKeepAlive = viper.GetDuration("tcp-keepalive")
	config.ReusePort = viper.GetBool("reuse-port")
	config.MetricsEndpoint = viper.GetString("metrics-endpoint")

	config.Workers = viper.GetInt("workers")
	config.OrderedDispatch = viper.GetBool("ordered-dispatch")
	config.BufferSize = viper.GetInt("buffer-size")
	config.MaxBuffers = viper.GetInt32("max-buffers")
	config.BufferAcquireTimeout = viper.GetDuration("buffer-acquire-timeout")
	config.MaxValueBytes = viper.GetInt("max-value-size")
	config.BacklogHigh = viper.GetInt64("backlog-high")
	config.BacklogLow = viper.GetInt64("backlog-low")
	config.WriteTimeout = viper.GetDuration("write-timeout")

	config.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	config.SnapshotEntries = viper.GetUint64("snapshot-entries")
	config.CompactionOverhead = viper.GetUint64("compaction-overhead")
	config.DataDir = viper.GetString("data-dir")
	config.LogLevel = viper.GetString("log-level")

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		config.ReplicaID = util.HashString(id, 0)
	} else if config.IsReplicated() {
		return config, fmt.Errorf("replica-id is required for the dstore backend")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		config.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return config, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			config.ClusterMembers[util.HashString(strings.TrimSpace(parts[0]), 0)] = strings.TrimSpace(parts[1])
		}
	} else if config.IsReplicated() {
		return config, fmt.Errorf("cluster-members is required for the dstore backend")
	}

	return config, config.Validate()
}

// run starts the server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	srv, err := server.NewServer(serveCmdConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		server.Logger.Infof("shutting down")
		if err := srv.Close(); err != nil {
			server.Logger.Warningf("error during shutdown: %v", err)
		}
	}()

	return srv.Serve()
}
