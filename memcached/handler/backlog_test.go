package handler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mcKV/memcached/conn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacklogWatermarks(t *testing.T) {
	b := NewBacklog(3, 1)
	var cleared atomic.Int32
	onCleared := func() { cleared.Add(1) }

	b.Enqueued()
	b.Enqueued()
	assert.False(t, b.Check(onCleared))

	b.Enqueued()
	require.True(t, b.Check(onCleared))

	b.Completed()
	assert.Zero(t, cleared.Load(), "still above the low watermark")
	b.Completed()
	assert.Equal(t, int32(1), cleared.Load())

	b.Completed()
	assert.Equal(t, int32(1), cleared.Load(), "continuations fire once")
}

func TestBacklogDisabled(t *testing.T) {
	b := NewBacklog(0, 0)
	for i := 0; i < 100; i++ {
		b.Enqueued()
	}
	assert.False(t, b.Check(func() {}))
}

func TestBacklogResumesPausedReader(t *testing.T) {
	b := NewBacklog(1, 0)
	flow := conn.NewFlowControl()

	b.Enqueued()
	flow.CheckBacklog(b.Check)
	require.True(t, flow.IsPaused())

	b.Completed()
	assert.False(t, flow.IsPaused())
	assert.True(t, flow.WaitReadable(make(chan struct{})))
}

// The last request may complete between the check and the pause
func TestBacklogClearedBeforePause(t *testing.T) {
	b := NewBacklog(1, 0)
	flow := conn.NewFlowControl()

	b.Enqueued()
	flow.CheckBacklog(func(onCleared func()) bool {
		congested := b.Check(onCleared)
		b.Completed()
		return congested
	})
	assert.False(t, flow.IsPaused())
	assert.Zero(t, b.Pending())
}

func TestBacklogConcurrentCompletion(t *testing.T) {
	b := NewBacklog(8, 2)
	flow := conn.NewFlowControl()

	for round := 0; round < 200; round++ {
		for i := 0; i < 8; i++ {
			b.Enqueued()
		}
		var wg sync.WaitGroup
		wg.Add(8)
		for i := 0; i < 8; i++ {
			go func() {
				defer wg.Done()
				b.Completed()
			}()
		}
		flow.CheckBacklog(b.Check)
		wg.Wait()
		require.False(t, flow.IsPaused(), "round %d", round)
	}
}
