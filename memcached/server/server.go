package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/ValentinKolb/mcKV/lib/buffer"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/memcached/common"
	"github.com/ValentinKolb/mcKV/memcached/conn"
	"github.com/ValentinKolb/mcKV/memcached/handler"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/ValentinKolb/mcKV/memcached/stats"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("memcached")

// Server accepts memcached clients and serves them from a handler
type Server struct {
	config    common.ServerConfig
	connector IConnector
	handler   handler.IHandler
	collector *stats.Collector
	provider  buffer.IProvider
	executor  Executor

	// backend owned by the server, nil if the handler was injected
	store    store.IStore
	nodeHost *dragonboat.NodeHost
	metrics  *http.Server

	listener net.Listener
	conns    *xsync.MapOf[uint64, *conn.Connection]
	nextID   atomic.Uint64
	wg       sync.WaitGroup
	closing  atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// NewServer creates the store and the handler described by the configuration
func NewServer(config common.ServerConfig) (*Server, error) {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := common.InitLoggers(config); err != nil {
		return nil, err
	}

	s, nodeHost, err := newStore(config)
	if err != nil {
		return nil, err
	}
	collector := stats.NewCollector(common.Version, itemCounter(s))
	h := handler.NewStoreHandler(s, collector, handler.Options{
		MaxValueBytes: config.MaxValueBytes,
		BacklogHigh:   config.BacklogHigh,
		BacklogLow:    config.BacklogLow,
		Settings:      settings(config),
	})

	srv, err := NewServerWithHandler(config, h, collector)
	if err != nil {
		_ = s.Close()
		if nodeHost != nil {
			nodeHost.Close()
		}
		return nil, err
	}
	srv.store = s
	srv.nodeHost = nodeHost
	return srv, nil
}

// NewServerWithHandler creates a server for an existing handler. collector may be nil.
func NewServerWithHandler(config common.ServerConfig, h handler.IHandler, collector *stats.Collector) (*Server, error) {
	if collector == nil {
		collector = stats.NewCollector(common.Version, nil)
	}

	var provider buffer.IProvider
	if config.MaxBuffers > 0 {
		bounded, err := buffer.NewBoundedPool(config.BufferSize, config.MaxBuffers, config.BufferAcquireTimeout)
		if err != nil {
			return nil, err
		}
		provider = bounded
	} else {
		provider = buffer.NewPool(config.BufferSize)
	}

	s := &Server{
		config:    config,
		connector: connectorFor(config.Endpoint),
		handler:   h,
		collector: collector,
		provider:  provider,
		executor:  NewExecutor(config.Workers, config.OrderedDispatch),
		conns:     xsync.NewMapOf[uint64, *conn.Connection](),
		done:      make(chan struct{}),
	}
	if config.MetricsEndpoint != "" {
		s.metrics = newMetricsServer(config.MetricsEndpoint, collector)
	}

	Logger.Infof("created memcached server %s", collector.InstanceID())
	Logger.Infof(config.String())
	return s, nil
}

// Start creates the listener and accepts connections in the background
func (s *Server) Start() error {
	listener, err := s.connector.Listen(s.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener

	if s.metrics != nil {
		go serveMetrics(s.metrics)
	}

	Logger.Infof("starting %s server on %s with %d workers", s.connector.GetName(), listener.Addr(), s.config.Workers)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Serve starts the server and blocks until it is closed
func (s *Server) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.done
	return nil
}

// Addr returns the address of the listener, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats returns the stats collector of the server
func (s *Server) Stats() *stats.Collector {
	return s.collector
}

// Connections returns the number of open connections
func (s *Server) Connections() int {
	return s.conns.Size()
}

// Close stops accepting, closes all connections, waits for the pending requests
// and closes the store. Calling it again has no effect.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.conns.Range(func(_ uint64, c *conn.Connection) bool {
			c.Shutdown()
			return true
		})
		s.wg.Wait()
		s.executor.Close()

		if s.metrics != nil {
			_ = s.metrics.Shutdown(context.Background())
		}
		if s.store != nil {
			err = errors.Join(err, s.store.Close())
		}
		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
		close(s.done)
		Logger.Infof("memcached server stopped")
	})
	return err
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}
		if s.closing.Load() {
			s.collector.ConnectionRejected()
			_ = nc.Close()
			continue
		}
		if err := s.connector.UpgradeConnection(nc, s.config); err != nil {
			Logger.Warningf("failed to apply socket options to %s: %v", nc.RemoteAddr(), err)
		}

		s.wg.Add(1)
		go s.serveConnection(nc)
	}
}

// serveConnection is the reader goroutine of one client
func (s *Server) serveConnection(nc net.Conn) {
	defer s.wg.Done()

	id := s.nextID.Add(1)
	c := conn.NewConnection(id, conn.NewNetSocket(nc, s.config.WriteTimeout), s.provider, s.collector)
	c.SetMaxBodyLength(maxBodyLength(s.config))
	s.conns.Store(id, c)
	s.collector.ConnectionOpened()
	Logger.Debugf("connection %d from %s opened", id, nc.RemoteAddr())

	// the server may have started closing before the connection was registered
	if s.closing.Load() {
		c.Shutdown()
	}

	writerDone := make(chan struct{})
	go s.writeLoop(c, writerDone)

	defer func() {
		_ = c.Close()
		<-writerDone
		s.conns.Delete(id)
		s.collector.ConnectionClosed()
		Logger.Debugf("connection %d closed", id)
	}()

	flow := c.Flow()
	for {
		if !flow.WaitReadable(c.Done()) {
			return
		}
		requests, err := c.Read()
		for _, req := range requests {
			s.executor.Submit(handler.NewTask(s.handler, req, s.collector))
		}
		if len(requests) > 0 {
			s.handler.Flush()
			flow.CheckBacklog(s.handler.CheckBacklog)
		}
		if err != nil {
			s.logReadError(c, err)
			return
		}
	}
}

func (s *Server) logReadError(c *conn.Connection, err error) {
	var protoErr *protocol.ProtocolError
	switch {
	case errors.Is(err, conn.ErrConnectionClosed), c.IsClosed():
	case errors.As(err, &protoErr):
		Logger.Warningf("connection %d: closing after protocol error: %v", c.ID(), err)
	default:
		Logger.Warningf("connection %d: %v", c.ID(), err)
	}
}

// writeLoop writes the responses a worker could not write without blocking
func (s *Server) writeLoop(c *conn.Connection, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-c.Done():
			return
		case <-c.Flow().WriteReady():
		}
		for {
			more, err := c.Write()
			if err != nil {
				Logger.Debugf("%v", err)
				return
			}
			if !more {
				break
			}
		}
	}
}
