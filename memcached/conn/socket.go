package conn

import (
	"errors"
	"net"
	"time"
)

// Socket is the byte stream a Connection reads requests from and writes responses to
type Socket interface {
	// Read reads into p, it returns io.EOF once the peer closed the stream
	Read(p []byte) (int, error)
	// Write writes the buffers in order and returns the number of bytes written.
	// A short count without error is a partial write, the caller retries the rest later.
	Write(bufs [][]byte) (int64, error)
	// Close closes the stream
	Close() error
}

// netSocket adapts a net.Conn
type netSocket struct {
	conn         net.Conn
	writeTimeout time.Duration
}

// NewNetSocket wraps a net.Conn. If writeTimeout is positive a write that does not
// complete in time is reported as partial write instead of blocking.
func NewNetSocket(c net.Conn, writeTimeout time.Duration) Socket {
	return &netSocket{conn: c, writeTimeout: writeTimeout}
}

func (s *netSocket) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

func (s *netSocket) Write(bufs [][]byte) (int64, error) {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}
	// WriteTo consumes the slice it is called on
	nb := make(net.Buffers, len(bufs))
	copy(nb, bufs)
	n, err := nb.WriteTo(s.conn)

	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *netSocket) Close() error {
	return s.conn.Close()
}

// pending returns the number of bytes left in bufs
func pending(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

// consume drops the first n bytes from bufs
func consume(bufs [][]byte, n int64) [][]byte {
	for len(bufs) > 0 {
		l := int64(len(bufs[0]))
		if l > n {
			bufs[0] = bufs[0][n:]
			break
		}
		n -= l
		bufs = bufs[1:]
	}
	return bufs
}
