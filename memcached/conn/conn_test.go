package conn

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/lib/buffer"
	"github.com/ValentinKolb/mcKV/memcached/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// scriptSocket returns the scripted chunks on Read and records all writes
type scriptSocket struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  bytes.Buffer
	maxWrite int // 0 = unlimited
	closed   bool
	writeErr error
}

func (s *scriptSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *scriptSocket) Write(bufs [][]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	var n int64
	for _, b := range bufs {
		if s.maxWrite > 0 && int(n)+len(b) > s.maxWrite {
			b = b[:s.maxWrite-int(n)]
		}
		s.written.Write(b)
		n += int64(len(b))
		if s.maxWrite > 0 && int(n) == s.maxWrite {
			break
		}
	}
	return n, nil
}

func (s *scriptSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *scriptSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *scriptSocket) output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.written.Bytes())
}

func (s *scriptSocket) setMaxWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxWrite = n
}

type testFrame struct {
	op     protocol.Opcode
	opaque uint32
	extras []byte
	key    []byte
	value  []byte
}

func randomFrames(rnd *rand.Rand, n int) []testFrame {
	frames := make([]testFrame, n)
	for i := range frames {
		f := testFrame{op: protocol.OpSet, opaque: uint32(i)}
		f.extras = protocol.StoreExtras{Flags: rnd.Uint32(), Expiration: 0}.Encode(nil)
		f.key = []byte(fmt.Sprintf("key-%d", i))
		f.value = make([]byte, rnd.Intn(200))
		rnd.Read(f.value)
		if i%7 == 0 {
			// frames without body
			f = testFrame{op: protocol.OpNoop, opaque: uint32(i)}
		}
		frames[i] = f
	}
	return frames
}

func encodeFrames(frames []testFrame) []byte {
	var b []byte
	for _, f := range frames {
		b = protocol.NewRequest(f.op, f.opaque, 0, f.extras, f.key, f.value).AppendTo(b)
	}
	return b
}

func splitRandomly(rnd *rand.Rand, data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rnd.Intn(min(len(data), 97))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// readAll reads until the stream is closed
func readAll(t *testing.T, c *Connection) []*Request {
	var all []*Request
	for {
		reqs, err := c.Read()
		all = append(all, reqs...)
		if err != nil {
			require.ErrorIs(t, err, ErrConnectionClosed)
			return all
		}
	}
}

func readResponses(t *testing.T, data []byte) []*protocol.Frame {
	var frames []*protocol.Frame
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		f, err := protocol.ReadFrame(r)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// TestFrameReassembly feeds the same stream split at random positions into
// connections with small buffers, so frames span several buffers
func TestFrameReassembly(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	frames := randomFrames(rnd, 200)
	stream := encodeFrames(frames)

	for round := 0; round < 20; round++ {
		provider := buffer.NewPool(24 + rnd.Intn(64))
		sock := &scriptSocket{chunks: splitRandomly(rnd, stream)}
		c := NewConnection(1, sock, provider, nil)

		reqs := readAll(t, c)
		require.Len(t, reqs, len(frames))
		for i, req := range reqs {
			f := frames[i]
			assert.Equal(t, uint64(i), req.ID())
			assert.Equal(t, uint64(1), req.AssociationKey())
			assert.Equal(t, f.op, req.Opcode())
			assert.Equal(t, f.opaque, req.Opaque())
			assert.Equal(t, len(f.extras), len(req.Extras()))
			assert.True(t, bytes.Equal(f.key, req.Key()))
			assert.True(t, bytes.Equal(f.value, req.Value()))
			require.NoError(t, req.Dispose())
		}

		require.NoError(t, c.Close())
		assert.Equal(t, int64(0), provider.Outstanding(), "round %d leaked buffers", round)
	}
}

func TestSingleSegmentWhenBufferHoldsFrame(t *testing.T) {
	provider := buffer.NewPool(4096)
	stream := protocol.NewRequest(protocol.OpSet, 1, 0, make([]byte, 8), []byte("k"), []byte("v")).Bytes()
	c := NewConnection(1, &scriptSocket{chunks: [][]byte{stream}}, provider, nil)

	reqs, err := c.Read()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, reqs[0].payload.Count())
	_ = reqs[0].Dispose()
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestCompactionReleasesConsumedBuffers(t *testing.T) {
	provider := buffer.NewPool(32)
	// 4 frames of 24 + 8 bytes, each filling exactly one buffer
	var stream []byte
	for i := 0; i < 4; i++ {
		stream = protocol.NewRequest(protocol.OpGet, uint32(i), 0, nil, []byte("abcdefgh"), nil).AppendTo(stream)
	}
	c := NewConnection(1, &scriptSocket{chunks: [][]byte{stream}}, provider, nil)

	var reqs []*Request
	for len(reqs) < 4 {
		r, err := c.Read()
		require.NoError(t, err)
		reqs = append(reqs, r...)
	}
	// only the live buffer (if any) is tracked, the segments keep the others alive
	assert.LessOrEqual(t, c.TrackedBuffers(), 1)
	assert.Equal(t, int64(4), provider.Outstanding()-int64(c.TrackedBuffers()))

	for _, r := range reqs {
		_ = r.Dispose()
	}
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestNegativeBodyLength(t *testing.T) {
	h := protocol.Header{Magic: protocol.MagicRequest, Opcode: protocol.OpGet, KeyLength: 3, BodyLength: -3, Opaque: 9}
	frame := make([]byte, protocol.HeaderLen)
	h.Encode(frame)
	frame = append(frame, "abc"...)

	c := NewConnection(1, &scriptSocket{chunks: [][]byte{frame}}, buffer.NewPool(64), nil)
	reqs, err := c.Read()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "abc", string(reqs[0].Key()))
	assert.Equal(t, 0, len(reqs[0].Value()))
}

func TestInvalidMagicIsProtocolError(t *testing.T) {
	frame := make([]byte, protocol.HeaderLen)
	frame[0] = 0x42
	provider := buffer.NewPool(64)
	c := NewConnection(1, &scriptSocket{chunks: [][]byte{frame}}, provider, nil)

	_, err := c.Read()
	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestOversizedBodyIsRejectedBeforeBuffering(t *testing.T) {
	h := protocol.Header{Magic: protocol.MagicRequest, Opcode: protocol.OpSet, ExtrasLength: 8, KeyLength: 1, BodyLength: 256 << 20}
	frame := make([]byte, protocol.HeaderLen)
	h.Encode(frame)
	frame = append(frame, bytes.Repeat([]byte("x"), 100)...)

	provider := buffer.NewPool(64)
	c := NewConnection(1, &scriptSocket{chunks: [][]byte{frame, frame[protocol.HeaderLen:]}}, provider, nil)

	reqs, err := c.Read()
	assert.Empty(t, reqs)
	var perr *protocol.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, protocol.ErrInvalidLength)
	assert.Equal(t, int64(1), provider.Outstanding())

	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestMaxBodyLength(t *testing.T) {
	small := protocol.NewRequest(protocol.OpSet, 1, 0, make([]byte, 8), []byte("k"), bytes.Repeat([]byte("v"), 23)).Bytes()
	large := protocol.NewRequest(protocol.OpSet, 2, 0, make([]byte, 8), []byte("k"), bytes.Repeat([]byte("v"), 24)).Bytes()

	provider := buffer.NewPool(64)
	c := NewConnection(1, &scriptSocket{chunks: [][]byte{small, large}}, provider, nil)
	c.SetMaxBodyLength(32)

	var reqs []*Request
	var err error
	for err == nil {
		var r []*Request
		r, err = c.Read()
		reqs = append(reqs, r...)
	}
	assert.ErrorIs(t, err, protocol.ErrInvalidLength)
	require.Len(t, reqs, 1)
	assert.Equal(t, uint32(1), reqs[0].Opaque())

	_ = reqs[0].Dispose()
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

// --------------------------------------------------------------------------
// Response ordering
// --------------------------------------------------------------------------

// TestResponsesWrittenInRequestOrder completes responses in random order on
// many goroutines and checks the wire order
func TestResponsesWrittenInRequestOrder(t *testing.T) {
	for round := 0; round < 50; round++ {
		rnd := rand.New(rand.NewSource(int64(round)))
		n := 1 + rnd.Intn(100)
		var stream []byte
		for i := 0; i < n; i++ {
			stream = protocol.NewRequest(protocol.OpGet, uint32(i), 0, nil, []byte("k"), nil).AppendTo(stream)
		}
		sock := &scriptSocket{chunks: splitRandomly(rnd, stream)}
		provider := buffer.NewPool(128)
		c := NewConnection(7, sock, provider, nil)
		reqs := readAll(t, c)
		require.Len(t, reqs, n)

		var wg sync.WaitGroup
		for _, i := range rnd.Perm(n) {
			req := reqs[i]
			delay := time.Duration(rnd.Intn(200)) * time.Microsecond
			wg.Add(1)
			go func() {
				defer wg.Done()
				time.Sleep(delay)
				resp := req.Response()
				resp.SetValue(binary.BigEndian.AppendUint64(nil, req.ID()))
				resp.Flush()
			}()
		}
		wg.Wait()

		out := readResponses(t, sock.output())
		require.Len(t, out, n)
		for i, f := range out {
			assert.Equal(t, uint32(i), f.Header.Opaque)
			assert.Equal(t, uint64(i), binary.BigEndian.Uint64(f.Value))
		}
		assert.Nil(t, c.Queue().Head())
		assert.Equal(t, int64(0), provider.Outstanding()-int64(c.TrackedBuffers()))
		_ = c.Close()
		assert.Equal(t, int64(0), provider.Outstanding())
	}
}

// TestResponsesOrderedWhileReading completes responses while the reader still
// appends new ones, so appends race with the removal of the last element
func TestResponsesOrderedWhileReading(t *testing.T) {
	for round := 0; round < 50; round++ {
		rnd := rand.New(rand.NewSource(int64(round)))
		n := 1 + rnd.Intn(200)
		chunks := make([][]byte, n)
		delays := make([]time.Duration, n)
		for i := range chunks {
			chunks[i] = protocol.NewRequest(protocol.OpGet, uint32(i), 0, nil, []byte("k"), nil).Bytes()
			if rnd.Intn(2) == 0 {
				delays[i] = time.Duration(rnd.Intn(50)) * time.Microsecond
			}
		}
		sock := &scriptSocket{chunks: chunks}
		provider := buffer.NewPool(64)
		c := NewConnection(7, sock, provider, nil)

		var wg sync.WaitGroup
		read := 0
		for {
			reqs, err := c.Read()
			for _, req := range reqs {
				req := req
				delay := delays[req.ID()]
				wg.Add(1)
				go func() {
					defer wg.Done()
					if delay > 0 {
						time.Sleep(delay)
					}
					resp := req.Response()
					resp.SetValue(binary.BigEndian.AppendUint64(nil, req.ID()))
					resp.Flush()
				}()
			}
			read += len(reqs)
			if err != nil {
				require.ErrorIs(t, err, ErrConnectionClosed)
				break
			}
		}
		wg.Wait()
		require.Equal(t, n, read)

		out := readResponses(t, sock.output())
		require.Len(t, out, n, "round %d", round)
		for i, f := range out {
			assert.Equal(t, uint32(i), f.Header.Opaque)
			assert.Equal(t, uint64(i), binary.BigEndian.Uint64(f.Value))
		}
		assert.Nil(t, c.Queue().Head())
		_ = c.Close()
		assert.Equal(t, int64(0), provider.Outstanding())
	}
}

func TestQueueAppendAfterLastRemoved(t *testing.T) {
	var q ResponseQueue
	a, b := &Response{}, &Response{}

	q.Append(a)
	assert.True(t, q.TryFlush(a, true))
	assert.Nil(t, q.Advance(a))
	assert.Nil(t, q.Head())

	// the removed element is still the tail, the new one must become head
	q.Append(b)
	assert.Same(t, b, q.Head())
	assert.False(t, q.TryFlush(b, false), "b is not deferred")
	q.MarkDeferred(b)
	assert.True(t, q.TryFlush(b, false))
	assert.False(t, q.TryFlush(b, false), "deferred flag is taken only once")
}

func TestQueueDeferredPickedUpByPredecessor(t *testing.T) {
	var q ResponseQueue
	a, b, c := &Response{}, &Response{}, &Response{}
	q.Append(a)
	q.Append(b)
	q.Append(c)

	assert.False(t, q.TryFlush(c, true))
	q.MarkDeferred(c)
	assert.False(t, q.TryFlush(b, true))
	q.MarkDeferred(b)

	require.True(t, q.TryFlush(a, true))
	next := q.Advance(a)
	require.Same(t, b, next)
	require.True(t, q.TryFlush(next, false))
	next = q.Advance(next)
	require.Same(t, c, next)
	require.True(t, q.TryFlush(next, false))
	assert.Nil(t, q.Advance(next))
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func singleRequest(t *testing.T, op protocol.Opcode, sock *scriptSocket, provider buffer.IProvider) (*Connection, *Request) {
	sock.chunks = [][]byte{protocol.NewRequest(op, 5, 0, nil, []byte("key"), nil).Bytes()}
	c := NewConnection(1, sock, provider, nil)
	reqs, err := c.Read()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	return c, reqs[0]
}

func TestQuitQClosesWithoutWriting(t *testing.T) {
	sock := &scriptSocket{}
	provider := buffer.NewPool(64)
	c, req := singleRequest(t, protocol.OpQuitQ, sock, provider)

	resp := req.Response()
	resp.Suppress()
	resp.CloseConnection()
	resp.Flush()

	assert.True(t, sock.isClosed())
	assert.Empty(t, sock.output())
	assert.True(t, c.IsClosed())
	<-c.Done()
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestQuitClosesAfterWriting(t *testing.T) {
	sock := &scriptSocket{}
	c, req := singleRequest(t, protocol.OpQuit, sock, buffer.NewPool(64))

	resp := req.Response()
	resp.CloseConnection()
	resp.Flush()

	out := readResponses(t, sock.output())
	require.Len(t, out, 1)
	assert.Equal(t, protocol.OpQuit, out[0].Header.Opcode)
	assert.True(t, c.IsClosed())
}

func TestStatResponseHasTerminator(t *testing.T) {
	sock := &scriptSocket{}
	_, req := singleRequest(t, protocol.OpStat, sock, buffer.NewPool(64))

	resp := req.Response()
	resp.AddStat("pid", "1")
	resp.AddStat("uptime", "10")
	resp.Flush()

	out := readResponses(t, sock.output())
	require.Len(t, out, 3)
	assert.Equal(t, "pid", string(out[0].Key))
	assert.Equal(t, "10", string(out[1].Value))
	assert.Equal(t, 0, out[2].Header.BodyLen())
	for _, f := range out {
		assert.Equal(t, uint32(5), f.Header.Opaque)
	}
}

func TestPartialWriteIsDelegated(t *testing.T) {
	sock := &scriptSocket{maxWrite: 10}
	provider := buffer.NewPool(256)
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = protocol.NewRequest(protocol.OpGet, uint32(i), 0, nil, []byte("k"), nil).AppendTo(stream)
	}
	sock.chunks = [][]byte{stream}
	c := NewConnection(1, sock, provider, nil)
	reqs, err := c.Read()
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	for _, r := range reqs {
		r.Response().SetValue([]byte("some value"))
		r.Response().Flush()
	}
	assert.Equal(t, 3, c.PendingWrites())
	select {
	case <-c.Flow().WriteReady():
	default:
		t.Fatal("writer was not signalled")
	}

	sock.setMaxWrite(0)
	pendingWrites, err := c.Write()
	require.NoError(t, err)
	assert.False(t, pendingWrites)
	assert.Equal(t, 0, c.PendingWrites())

	out := readResponses(t, sock.output())
	require.Len(t, out, 3)
	for i, f := range out {
		assert.Equal(t, uint32(i), f.Header.Opaque)
		assert.Equal(t, "some value", string(f.Value))
	}
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestWriteFailureClosesConnection(t *testing.T) {
	sock := &scriptSocket{writeErr: errors.New("broken pipe")}
	provider := buffer.NewPool(64)
	c, req := singleRequest(t, protocol.OpNoop, sock, provider)

	req.Response().Flush()
	assert.True(t, c.IsClosed())
	_ = c.Close()
	assert.Equal(t, int64(0), provider.Outstanding())
}

func TestResponsesAfterCloseAreDiscarded(t *testing.T) {
	sock := &scriptSocket{}
	provider := buffer.NewPool(64)
	c, req := singleRequest(t, protocol.OpGet, sock, provider)
	_ = c.Close()

	req.Response().Flush()
	assert.Empty(t, sock.output())
	assert.Equal(t, int64(0), provider.Outstanding())
	assert.ErrorIs(t, req.Dispose(), buffer.ErrAlreadyDisposed)
}
