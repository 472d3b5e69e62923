package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple"
	"github.com/ValentinKolb/mcKV/lib/store/lstore"
	"github.com/ValentinKolb/mcKV/memcached/client"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/ValentinKolb/mcKV/memcached/handler"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/ValentinKolb/mcKV/memcached/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func testConfig(endpoint string) common.ServerConfig {
	config := common.DefaultServerConfig()
	config.Endpoint = endpoint
	config.Workers = 4
	config.BufferSize = 256
	config.LogLevel = "error"
	return config
}

func startServer(t *testing.T, config common.ServerConfig) *Server {
	s := lstore.NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) })
	t.Cleanup(func() { _ = s.Close() })

	collector := stats.NewCollector(common.Version, itemCounter(s))
	h := handler.NewStoreHandler(s, collector, handler.Options{
		MaxValueBytes: config.MaxValueBytes,
		BacklogHigh:   config.BacklogHigh,
		BacklogLow:    config.BacklogLow,
		Settings:      settings(config),
	})
	srv, err := NewServerWithHandler(config, h, collector)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func dial(t *testing.T, endpoint string) *client.Client {
	c, err := client.Dial(endpoint, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSetGetMiss(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	cas, err := c.Set(ctx, client.Item{Key: "foo", Value: []byte("bar"), Flags: 5})
	require.NoError(t, err)
	assert.NotZero(t, cas)

	it, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", string(it.Value))
	assert.Equal(t, uint32(5), it.Flags)
	assert.Equal(t, cas, it.CAS)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestGetMissHasEmptyBody(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Write(protocol.NewRequest(protocol.OpGet, 7, 0, nil, []byte("missing"), nil).Bytes())
	require.NoError(t, err)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))

	raw := make([]byte, protocol.HeaderLen)
	_, err = io.ReadFull(nc, raw)
	require.NoError(t, err)
	h, err := protocol.ParseResponseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusKeyNotFound, h.Status())
	assert.Equal(t, uint32(7), h.Opaque)
	assert.Zero(t, h.BodyLength)
	assert.Zero(t, h.ExtrasLength)
	assert.Zero(t, h.KeyLength)
	assert.Zero(t, h.CAS)
}

func TestCommandsEndToEnd(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	_, err := c.Add(ctx, client.Item{Key: "k", Value: []byte("v")})
	require.NoError(t, err)
	_, err = c.Add(ctx, client.Item{Key: "k", Value: []byte("v")})
	assert.ErrorIs(t, err, client.ErrExists)

	_, err = c.Append(ctx, client.Item{Key: "k", Value: []byte("2")})
	require.NoError(t, err)
	_, err = c.Prepend(ctx, client.Item{Key: "k", Value: []byte("1")})
	require.NoError(t, err)
	it, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1v2", string(it.Value))

	_, err = c.Replace(ctx, client.Item{Key: "k", Value: []byte("new"), CAS: it.CAS + 1})
	assert.ErrorIs(t, err, client.ErrExists)
	_, err = c.Replace(ctx, client.Item{Key: "k", Value: []byte("new"), CAS: it.CAS})
	require.NoError(t, err)

	n, err := c.Increment(ctx, "n", 3, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), n)
	n, err = c.Increment(ctx, "n", 2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
	n, err = c.Decrement(ctx, "n", 50, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Touch(ctx, "k", 100))
	it, err = c.GetAndTouch(ctx, "k", 100)
	require.NoError(t, err)
	assert.Equal(t, "new", string(it.Value))

	require.NoError(t, c.Delete(ctx, "k", 0))
	assert.ErrorIs(t, c.Delete(ctx, "k", 0), client.ErrNotFound)

	require.NoError(t, c.Flush(ctx, 0))
	_, err = c.Get(ctx, "n")
	assert.ErrorIs(t, err, client.ErrNotFound)

	version, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.Version, version)
	require.NoError(t, c.Noop(ctx))
}

func TestPipelinedQuietRequests(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	var reqs []*protocol.Frame
	for i := 0; i < 100; i++ {
		extras := protocol.StoreExtras{}.Encode(nil)
		reqs = append(reqs, protocol.NewRequest(protocol.OpSetQ, 0, 0, extras, []byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprint(i))))
	}
	reqs = append(reqs, protocol.NewRequest(protocol.OpNoop, 0, 0, nil, nil, nil))
	resps, err := c.Pipeline(ctx, reqs...)
	require.NoError(t, err)
	require.Len(t, resps, 1, "successful quiet sets answer nothing")

	keys := []string{"key-1", "absent", "key-99"}
	items, err := c.GetMulti(ctx, keys...)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "99", string(items["key-99"].Value))
}

func TestResponsesKeepRequestOrder(t *testing.T) {
	config := testConfig("127.0.0.1:0")
	config.Workers = 16
	srv := startServer(t, config)
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	var reqs []*protocol.Frame
	for i := 0; i < 500; i++ {
		extras := protocol.ArithmeticExtras{Delta: 1}.Encode(nil)
		reqs = append(reqs, protocol.NewRequest(protocol.OpIncrement, 0, 0, extras, []byte(fmt.Sprintf("c-%d", i%7)), nil))
	}
	resps, err := c.Pipeline(ctx, reqs...)
	require.NoError(t, err)
	require.Len(t, resps, len(reqs))
	for i, resp := range resps {
		require.Equal(t, reqs[i].Header.Opaque, resp.Header.Opaque)
		require.Equal(t, protocol.StatusNoError, resp.Status())
	}
}

func TestStatGroups(t *testing.T) {
	config := testConfig("127.0.0.1:0")
	srv := startServer(t, config)
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	_, err := c.Set(ctx, client.Item{Key: "a", Value: []byte("12345")})
	require.NoError(t, err)

	general, err := c.Stats(ctx, "")
	require.NoError(t, err)
	values := make(map[string]string)
	for _, e := range general {
		values[e.Key] = e.Value
	}
	assert.Equal(t, common.Version, values["version"])
	assert.Equal(t, "1", values["curr_connections"])
	assert.Equal(t, "1", values["curr_items"])
	assert.Equal(t, "1", values[stats.CmdSet])

	set, err := c.Stats(ctx, "settings")
	require.NoError(t, err)
	assert.Contains(t, set, client.Stat{Key: "num_threads", Value: "4"})

	_, err = c.Stats(ctx, "nope")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestQuitQClosesWithoutOutput(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	_, err = nc.Write(protocol.NewRequest(protocol.OpQuitQ, 1, 0, nil, nil, nil).Bytes())
	require.NoError(t, err)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	out, err := io.ReadAll(nc)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestQuitClosesAfterResponse(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	c := dial(t, srv.Addr().String())
	require.NoError(t, c.Quit(testCtx(t)))
	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestProtocolErrorClosesConnection(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	bad := protocol.NewRequest(protocol.OpNoop, 1, 0, nil, nil, nil).Bytes()
	bad[0] = 0x42
	_, err = nc.Write(bad)
	require.NoError(t, err)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	out, err := io.ReadAll(nc)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	config := testConfig("127.0.0.1:0")
	config.MaxValueBytes = 1024
	srv := startServer(t, config)
	nc, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer nc.Close()

	h := protocol.Header{Magic: protocol.MagicRequest, Opcode: protocol.OpSet, ExtrasLength: 8, KeyLength: 1, BodyLength: 256 << 20}
	frame := make([]byte, protocol.HeaderLen)
	h.Encode(frame)
	_, err = nc.Write(frame)
	require.NoError(t, err)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	out, err := io.ReadAll(nc)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestManyClients(t *testing.T) {
	config := testConfig("127.0.0.1:0")
	config.OrderedDispatch = true
	config.BacklogHigh = 8
	config.BacklogLow = 2
	srv := startServer(t, config)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := client.Dial(srv.Addr().String(), time.Second)
			if !assert.NoError(t, err) {
				return
			}
			defer c.Close()
			ctx := testCtx(t)
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("%d-%d", i, j)
				if _, err := c.Set(ctx, client.Item{Key: key, Value: []byte(key)}); !assert.NoError(t, err) {
					return
				}
				it, err := c.Get(ctx, key)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, key, string(it.Value))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(800), srv.Stats().Count(stats.CmdSet))
}

func TestUnixSocket(t *testing.T) {
	endpoint := "unix://" + filepath.Join(t.TempDir(), "mckv.sock")
	srv := startServer(t, testConfig(endpoint))
	c := dial(t, endpoint)
	require.NoError(t, c.Noop(testCtx(t)))
	assert.Equal(t, "unix", srv.Addr().Network())
}

func TestBoundedBuffers(t *testing.T) {
	config := testConfig("127.0.0.1:0")
	config.MaxBuffers = 8
	config.BufferAcquireTimeout = time.Second
	srv := startServer(t, config)
	c := dial(t, srv.Addr().String())
	ctx := testCtx(t)

	value := []byte(strings.Repeat("x", 4*config.BufferSize))
	_, err := c.Set(ctx, client.Item{Key: "big", Value: value})
	require.NoError(t, err)
	it, err := c.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, value, it.Value)
}

func TestMetricsEndpoint(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsAddr := l.Addr().String()
	require.NoError(t, l.Close())

	config := testConfig("127.0.0.1:0")
	config.MetricsEndpoint = metricsAddr
	srv := startServer(t, config)
	c := dial(t, srv.Addr().String())
	require.NoError(t, c.Noop(testCtx(t)))

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + metricsAddr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "mckv_current_connections 1")
}

func TestCloseDisconnectsClients(t *testing.T) {
	srv := startServer(t, testConfig("127.0.0.1:0"))
	c := dial(t, srv.Addr().String())
	require.NoError(t, c.Noop(testCtx(t)))

	require.NoError(t, srv.Close())
	assert.Zero(t, srv.Connections())
	assert.Error(t, c.Noop(testCtx(t)))
	assert.NoError(t, srv.Close())
}
