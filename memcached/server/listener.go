package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/ValentinKolb/mcKV/memcached/common"
)

// unixPrefix marks an endpoint as unix socket path
const unixPrefix = "unix://"

// IConnector creates the listener of a transport and prepares accepted connections
type IConnector interface {
	// Listen creates a listener
	Listen(config common.ServerConfig) (net.Listener, error)

	// UpgradeConnection applies the socket options of the transport to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}

// connectorFor selects the transport of an endpoint
func connectorFor(endpoint string) IConnector {
	if strings.HasPrefix(endpoint, unixPrefix) {
		return &unixConnector{}
	}
	return &tcpConnector{}
}

// --------------------------------------------------------------------------
// TCP
// --------------------------------------------------------------------------

type tcpConnector struct{}

func (c *tcpConnector) GetName() string {
	return "tcp"
}

func (c *tcpConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	lc := net.ListenConfig{}
	if config.ReusePort {
		lc.Control = func(network, address string, raw syscall.RawConn) error {
			var sockErr error
			if err := raw.Control(func(fd uintptr) { sockErr = setReusePort(fd) }); err != nil {
				return err
			}
			return sockErr
		}
	}
	listener, err := lc.Listen(context.Background(), "tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp socket: %w", err)
	}
	return listener, nil
}

func (c *tcpConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}
	if config.TCPKeepAlive > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(config.TCPKeepAlive); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Unix
// --------------------------------------------------------------------------

type unixConnector struct{}

func (c *unixConnector) GetName() string {
	return "unix"
}

func (c *unixConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	socketPath := strings.TrimPrefix(config.Endpoint, unixPrefix)

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}
	return listener, nil
}

func (c *unixConnector) UpgradeConnection(net.Conn, common.ServerConfig) error {
	return nil
}
