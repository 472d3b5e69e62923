package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/mcKV/memcached/protocol"
)

var ErrClosed = errors.New("memcached client: connection closed")

// StatusError is a response with a status other than NoError
type StatusError struct {
	Status  protocol.Status
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("memcached: %s (%s)", e.Status.Text(), e.Message)
}

// Is matches errors by status
func (e *StatusError) Is(target error) bool {
	var t *StatusError
	return errors.As(target, &t) && t.Status == e.Status
}

// Errors of the common statuses, for errors.Is
var (
	ErrNotFound   = &StatusError{Status: protocol.StatusKeyNotFound}
	ErrExists     = &StatusError{Status: protocol.StatusKeyExists}
	ErrNotStored  = &StatusError{Status: protocol.StatusItemNotStored}
	ErrNonNumeric = &StatusError{Status: protocol.StatusNonNumeric}
	ErrTooLarge   = &StatusError{Status: protocol.StatusValueTooLarge}
)

func statusError(f *protocol.Frame) error {
	if f.Status() == protocol.StatusNoError {
		return nil
	}
	return &StatusError{Status: f.Status(), Message: string(f.Value)}
}

// Client is a connection to a memcached server
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	mu     sync.Mutex
	opaque uint32
	closed bool
}

// Dial connects to an endpoint, host:port or a unix socket path prefixed with unix://
func Dial(endpoint string, timeout time.Duration) (*Client, error) {
	network, addr := "tcp", endpoint
	if path, ok := strings.CutPrefix(endpoint, "unix://"); ok {
		network, addr = "unix", path
	}
	conn, err := net.DialTimeout(network, addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return NewClient(conn), nil
}

// NewClient uses an established connection
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Do sends one request and reads its response. For stat requests only the
// first packet is returned, use Stats instead.
func (c *Client) Do(ctx context.Context, req *protocol.Frame) (*protocol.Frame, error) {
	resps, err := c.Pipeline(ctx, req)
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// Pipeline sends all requests at once and reads one response per request.
// Quiet requests must be followed by a request that always answers (e.g. noop),
// their responses are returned only if the server sent one.
func (c *Client) Pipeline(ctx context.Context, reqs ...*protocol.Frame) ([]*protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}

	var out []byte
	opaques := make(map[uint32]int, len(reqs))
	for i, req := range reqs {
		c.opaque++
		req.Header.Opaque = c.opaque
		opaques[c.opaque] = i
		out = req.AppendTo(out)
	}
	if _, err := c.conn.Write(out); err != nil {
		c.fail()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// quiet requests may be skipped, the last request always answers
	last := reqs[len(reqs)-1].Header.Opaque
	var resps []*protocol.Frame
	for {
		f, err := protocol.ReadFrame(c.reader)
		if err != nil {
			c.fail()
			return resps, fmt.Errorf("failed to read response: %w", err)
		}
		if _, ok := opaques[f.Header.Opaque]; !ok {
			c.fail()
			return resps, fmt.Errorf("response with unknown opaque %d", f.Header.Opaque)
		}
		resps = append(resps, f)
		if f.Header.Opaque == last && !isStatPacket(f) {
			return resps, nil
		}
	}
}

// isStatPacket reports whether f is a stat entry that is followed by more packets
func isStatPacket(f *protocol.Frame) bool {
	return f.Header.Opcode.Base() == protocol.OpStat && f.Status() == protocol.StatusNoError && len(f.Key) > 0
}

func (c *Client) deadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	return c.conn.SetDeadline(deadline)
}

// fail closes a connection that is out of sync with the server
func (c *Client) fail() {
	c.closed = true
	_ = c.conn.Close()
}
