package server

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordTask struct {
	key uint64
	seq int
	run func(key uint64, seq int)
}

func (r *recordTask) Run()                   { r.run(r.key, r.seq) }
func (r *recordTask) AssociationKey() uint64 { return r.key }

func TestKeyedExecutorKeepsOrderPerKey(t *testing.T) {
	const keys, perKey = 16, 500
	e := NewExecutor(4, true)

	var mu sync.Mutex
	seen := make(map[uint64][]int)
	record := func(key uint64, seq int) {
		mu.Lock()
		seen[key] = append(seen[key], seq)
		mu.Unlock()
	}
	for i := 0; i < perKey; i++ {
		for k := uint64(0); k < keys; k++ {
			e.Submit(&recordTask{key: k, seq: i, run: record})
		}
	}
	e.Close()

	require.Len(t, seen, keys)
	for k, seqs := range seen {
		require.Len(t, seqs, perKey)
		for i, seq := range seqs {
			require.Equal(t, i, seq, "key %d", k)
		}
	}
}

func TestPoolExecutorRunsEverything(t *testing.T) {
	e := NewExecutor(8, false)
	var n atomic.Int64
	for i := 0; i < 10_000; i++ {
		e.Submit(&recordTask{key: uint64(i), run: func(uint64, int) { n.Add(1) }})
	}
	e.Close()
	assert.Equal(t, int64(10_000), n.Load())

	// closing twice is harmless
	e.Close()
}

func TestKeyedRouteIsStable(t *testing.T) {
	e := newKeyedExecutor(5)
	defer e.Close()
	for k := uint64(0); k < 100; k++ {
		r := e.route(k)
		assert.Equal(t, r, e.route(k))
		assert.True(t, r >= 0 && r < 5)
	}
}
