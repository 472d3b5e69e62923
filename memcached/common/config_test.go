package common

import (
	"strings"
	"testing"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultServerConfig()
	require.NoError(t, c.Validate())
	assert.False(t, c.IsReplicated())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(c *ServerConfig){
		"store":        func(c *ServerConfig) { c.Store = "redis" },
		"log level":    func(c *ServerConfig) { c.LogLevel = "loud" },
		"endpoint":     func(c *ServerConfig) { c.Endpoint = "" },
		"workers":      func(c *ServerConfig) { c.Workers = 0 },
		"buffer size":  func(c *ServerConfig) { c.BufferSize = 10 },
		"max buffers":  func(c *ServerConfig) { c.MaxBuffers = -1 },
		"value size":   func(c *ServerConfig) { c.MaxValueBytes = 0 },
		"watermarks":   func(c *ServerConfig) { c.BacklogHigh, c.BacklogLow = 10, 20 },
		"replica id":   func(c *ServerConfig) { c.Store = StoreTypeReplicated; c.ReplicaID = 7 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultServerConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestParseStoreType(t *testing.T) {
	st, err := ParseStoreType("DSTORE")
	require.NoError(t, err)
	assert.Equal(t, StoreTypeReplicated, st)

	_, err = ParseStoreType("other")
	assert.Error(t, err)
}

func TestDragonboatConfig(t *testing.T) {
	c := DefaultServerConfig()
	c.Store = StoreTypeReplicated
	c.ShardID = 42
	c.WriteTimeout = time.Second

	rc := c.ToDragonboatConfig()
	assert.Equal(t, uint64(42), rc.ShardID)
	assert.Equal(t, c.ReplicaID, rc.ReplicaID)
	assert.True(t, rc.CheckQuorum)

	nh := c.ToNodeHostConfig()
	assert.Equal(t, "localhost:63001", nh.RaftAddress)

	s := c.String()
	assert.True(t, strings.Contains(s, "RAFT PARAMETERS"))
	assert.True(t, strings.Contains(s, "Node 1: localhost:63001"))
}

func TestVerbosityToLogLevel(t *testing.T) {
	assert.Equal(t, logger.LogLevel(logger.WARNING), VerbosityToLogLevel(0))
	assert.Equal(t, logger.LogLevel(logger.INFO), VerbosityToLogLevel(1))
	assert.Equal(t, logger.LogLevel(logger.DEBUG), VerbosityToLogLevel(5))

	_, err := ParseLogLevel("nope")
	assert.Error(t, err)
}
