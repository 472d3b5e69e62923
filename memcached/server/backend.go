package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/lib/store/dstore"
	"github.com/ValentinKolb/mcKV/lib/store/lstore"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/ValentinKolb/mcKV/memcached/stats"
	"github.com/lni/dragonboat/v4"
)

// newStore creates the store selected by the configuration. The node host is nil
// for a local store.
func newStore(config common.ServerConfig) (store.IStore, *dragonboat.NodeHost, error) {
	// Function to create a new database instance
	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }

	if !config.IsReplicated() {
		Logger.Infof("created local store")
		return lstore.NewLocalStore(dbFactory), nil, nil
	}

	nodeHost, err := dragonboat.NewNodeHost(config.ToNodeHostConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node host: %w", err)
	}
	if err := nodeHost.StartConcurrentReplica(config.ClusterMembers, false, dstore.CreateStateMaschineFactory(dbFactory), config.ToDragonboatConfig()); err != nil {
		nodeHost.Close()
		return nil, nil, fmt.Errorf("failed to start shard %d: %w", config.ShardID, err)
	}
	Logger.Infof("started replica %d of shard %d", config.ReplicaID, config.ShardID)

	timeout := time.Duration(config.TimeoutSecond) * time.Second
	return dstore.NewDistributedStore(nodeHost, config.ShardID, timeout), nodeHost, nil
}

// itemCounter reports the number of items and their size for the stats
func itemCounter(s store.IStore) func() (int64, int64) {
	return func() (int64, int64) {
		info, err := s.GetDBInfo()
		if err != nil {
			Logger.Debugf("failed to read db info: %v", err)
			return 0, 0
		}
		return info.Items, info.SizeBytes
	}
}

// settings lists the configuration reported by "stat settings"
// maxBodyLength is the largest frame body a connection accepts: the largest value
// plus the longest key and extras. Slightly larger values still get a too large response.
func maxBodyLength(config common.ServerConfig) int {
	return config.MaxValueBytes + protocol.MaxKeyLength + 255
}

func settings(config common.ServerConfig) []stats.Entry {
	entries := []stats.Entry{
		{Key: "endpoint", Value: config.Endpoint},
		{Key: "store", Value: string(config.Store)},
		{Key: "num_threads", Value: strconv.Itoa(config.Workers)},
		{Key: "ordered_dispatch", Value: strconv.FormatBool(config.OrderedDispatch)},
		{Key: "item_size_max", Value: strconv.Itoa(config.MaxValueBytes)},
		{Key: "buffer_size", Value: strconv.Itoa(config.BufferSize)},
		{Key: "max_buffers", Value: strconv.Itoa(int(config.MaxBuffers))},
		{Key: "backlog_high", Value: strconv.FormatInt(config.BacklogHigh, 10)},
		{Key: "backlog_low", Value: strconv.FormatInt(config.BacklogLow, 10)},
		{Key: "write_timeout", Value: config.WriteTimeout.String()},
		{Key: "tcp_nodelay", Value: strconv.FormatBool(config.TCPNoDelay)},
		{Key: "tcp_keepalive", Value: config.TCPKeepAlive.String()},
		{Key: "reuse_port", Value: strconv.FormatBool(config.ReusePort)},
		{Key: "log_level", Value: config.LogLevel},
	}
	if config.IsReplicated() {
		entries = append(entries,
			stats.Entry{Key: "shard_id", Value: strconv.FormatUint(config.ShardID, 10)},
			stats.Entry{Key: "replica_id", Value: strconv.FormatUint(config.ReplicaID, 10)},
			stats.Entry{Key: "cluster_size", Value: strconv.Itoa(len(config.ClusterMembers))},
		)
	}
	return entries
}
