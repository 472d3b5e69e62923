package testing

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		tests := []struct {
			name string
			fn   func(t *testing.T, database db.KVDB)
		}{
			{"Set&Get", testSetGet},
			{"AddReplace", testAddReplace},
			{"AppendPrepend", testAppendPrepend},
			{"CAS", testCAS},
			{"Delete", testDelete},
			{"Arithmetic", testArithmetic},
			{"Touch", testTouch},
			{"Expiry", testExpiry},
			{"GarbageCollect", testGarbageCollect},
			{"FlushAll", testFlushAll},
			{"DelayedFlush", testDelayedFlush},
			{"ConcurrentIncrements", testConcurrentIncrements},
			{"Info", testInfo},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				database := factory()
				t.Cleanup(func() { _ = database.Close() })
				tc.fn(t, database)
			})
		}

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// index hands out unique write indices
type index struct{ n atomic.Uint64 }

func (i *index) next() uint64 { return i.n.Add(1) }

const now = int64(1_700_000_000)

func set(t *testing.T, database db.KVDB, idx *index, key, value string) uint64 {
	status, cas := database.Store(db.ModeSet, key, db.Item{Value: []byte(value)}, 0, idx.next(), now)
	require.Equal(t, db.StatusOK, status)
	return cas
}

func requireValue(t *testing.T, database db.KVDB, key, value string, at int64) {
	item, ok := database.Get(key, at)
	require.True(t, ok, "key %s should exist", key)
	assert.Equal(t, value, string(item.Value))
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureStore|db.FeatureGet)
	var idx index

	status, cas := database.Store(db.ModeSet, "key", db.Item{Value: []byte("value"), Flags: 42}, 0, idx.next(), now)
	require.Equal(t, db.StatusOK, status)
	assert.NotZero(t, cas)

	item, ok := database.Get("key", now)
	require.True(t, ok)
	assert.Equal(t, "value", string(item.Value))
	assert.Equal(t, uint32(42), item.Flags)
	assert.Equal(t, cas, item.CAS)

	// the returned value is a copy
	item.Value[0] = 'X'
	requireValue(t, database, "key", "value", now)

	// overwrite changes the cas
	cas2 := set(t, database, &idx, "key", "other")
	assert.NotEqual(t, cas, cas2)
	requireValue(t, database, "key", "other", now)

	// empty values are valid
	set(t, database, &idx, "empty", "")
	item, ok = database.Get("empty", now)
	require.True(t, ok)
	assert.Empty(t, item.Value)

	_, ok = database.Get("missing", now)
	assert.False(t, ok)
	assert.Equal(t, idx.n.Load(), database.WriteIdx())
}

func testAddReplace(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureStore)
	var idx index

	status, _ := database.Store(db.ModeReplace, "key", db.Item{Value: []byte("v")}, 0, idx.next(), now)
	assert.Equal(t, db.StatusNotFound, status)

	status, _ = database.Store(db.ModeAdd, "key", db.Item{Value: []byte("v1")}, 0, idx.next(), now)
	assert.Equal(t, db.StatusOK, status)

	status, _ = database.Store(db.ModeAdd, "key", db.Item{Value: []byte("v2")}, 0, idx.next(), now)
	assert.Equal(t, db.StatusExists, status)
	requireValue(t, database, "key", "v1", now)

	status, _ = database.Store(db.ModeReplace, "key", db.Item{Value: []byte("v3")}, 0, idx.next(), now)
	assert.Equal(t, db.StatusOK, status)
	requireValue(t, database, "key", "v3", now)

	// add succeeds on an expired key
	database.Store(db.ModeSet, "exp", db.Item{Value: []byte("old"), ExpireAt: now + 1}, 0, idx.next(), now)
	status, _ = database.Store(db.ModeAdd, "exp", db.Item{Value: []byte("new")}, 0, idx.next(), now+2)
	assert.Equal(t, db.StatusOK, status)
	requireValue(t, database, "exp", "new", now+2)
}

func testAppendPrepend(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureConcat)
	var idx index

	status, _ := database.Store(db.ModeAppend, "key", db.Item{Value: []byte("x")}, 0, idx.next(), now)
	assert.Equal(t, db.StatusNotStored, status)

	database.Store(db.ModeSet, "key", db.Item{Value: []byte("mid"), Flags: 7, ExpireAt: now + 100}, 0, idx.next(), now)
	status, _ = database.Store(db.ModeAppend, "key", db.Item{Value: []byte("-end"), Flags: 1}, 0, idx.next(), now)
	require.Equal(t, db.StatusOK, status)
	status, _ = database.Store(db.ModePrepend, "key", db.Item{Value: []byte("start-")}, 0, idx.next(), now)
	require.Equal(t, db.StatusOK, status)

	item, ok := database.Get("key", now)
	require.True(t, ok)
	assert.Equal(t, "start-mid-end", string(item.Value))
	assert.Equal(t, uint32(7), item.Flags, "flags of the existing item are kept")
	assert.Equal(t, now+100, item.ExpireAt)
}

func testCAS(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureStore)
	var idx index

	status, _ := database.Store(db.ModeSet, "key", db.Item{Value: []byte("v")}, 99, idx.next(), now)
	assert.Equal(t, db.StatusNotFound, status)

	cas := set(t, database, &idx, "key", "v1")

	status, _ = database.Store(db.ModeSet, "key", db.Item{Value: []byte("v2")}, cas+1000, idx.next(), now)
	assert.Equal(t, db.StatusExists, status)
	requireValue(t, database, "key", "v1", now)

	status, newCas := database.Store(db.ModeSet, "key", db.Item{Value: []byte("v2")}, cas, idx.next(), now)
	assert.Equal(t, db.StatusOK, status)
	assert.NotEqual(t, cas, newCas)

	// the old token is used up
	status, _ = database.Store(db.ModeSet, "key", db.Item{Value: []byte("v3")}, cas, idx.next(), now)
	assert.Equal(t, db.StatusExists, status)
	requireValue(t, database, "key", "v2", now)
}

func testDelete(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureDelete)
	var idx index

	assert.Equal(t, db.StatusNotFound, database.Delete("key", 0, idx.next(), now))

	cas := set(t, database, &idx, "key", "v")
	assert.Equal(t, db.StatusExists, database.Delete("key", cas+1, idx.next(), now))
	assert.Equal(t, db.StatusOK, database.Delete("key", cas, idx.next(), now))
	_, ok := database.Get("key", now)
	assert.False(t, ok)

	set(t, database, &idx, "key", "again")
	requireValue(t, database, "key", "again", now)
}

func testArithmetic(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureArithmetic)
	var idx index

	_, _, status := database.Arithmetic("counter", true, 1, 0, false, 0, 0, idx.next(), now)
	assert.Equal(t, db.StatusNotFound, status)

	value, cas, status := database.Arithmetic("counter", true, 1, 10, true, 0, 0, idx.next(), now)
	require.Equal(t, db.StatusOK, status)
	assert.Equal(t, uint64(10), value, "a new counter starts with the initial value")
	assert.NotZero(t, cas)

	value, _, _ = database.Arithmetic("counter", true, 5, 0, true, 0, 0, idx.next(), now)
	assert.Equal(t, uint64(15), value)
	requireValue(t, database, "counter", "15", now)

	value, _, _ = database.Arithmetic("counter", false, 100, 0, true, 0, 0, idx.next(), now)
	assert.Equal(t, uint64(0), value, "decrement stops at zero")

	set(t, database, &idx, "max", fmt.Sprint(uint64(math.MaxUint64)))
	value, _, _ = database.Arithmetic("max", true, 2, 0, false, 0, 0, idx.next(), now)
	assert.Equal(t, uint64(1), value, "increment wraps")

	set(t, database, &idx, "text", "abc")
	_, _, status = database.Arithmetic("text", true, 1, 0, false, 0, 0, idx.next(), now)
	assert.Equal(t, db.StatusNonNumeric, status)

	_, _, status = database.Arithmetic("counter", true, 1, 0, false, 0, 12345, idx.next(), now)
	assert.Equal(t, db.StatusExists, status)
}

func testTouch(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureTouch)
	var idx index

	_, status := database.Touch("key", now+10, idx.next(), now)
	assert.Equal(t, db.StatusNotFound, status)

	database.Store(db.ModeSet, "key", db.Item{Value: []byte("v"), ExpireAt: now + 1}, 0, idx.next(), now)
	item, status := database.Touch("key", now+100, idx.next(), now)
	require.Equal(t, db.StatusOK, status)
	assert.Equal(t, "v", string(item.Value))
	assert.Equal(t, now+100, item.ExpireAt)

	requireValue(t, database, "key", "v", now+50)

	// zero removes the expiration
	database.Touch("key", 0, idx.next(), now)
	requireValue(t, database, "key", "v", now+1000)
}

func testExpiry(t *testing.T, database db.KVDB) {
	var idx index

	database.Store(db.ModeSet, "key", db.Item{Value: []byte("v"), ExpireAt: now + 10}, 0, idx.next(), now)
	requireValue(t, database, "key", "v", now+9)

	_, ok := database.Get("key", now+10)
	assert.False(t, ok)

	// expired keys behave like missing keys for conditional writes
	status, _ := database.Store(db.ModeReplace, "key", db.Item{Value: []byte("x")}, 0, idx.next(), now+10)
	assert.Equal(t, db.StatusNotFound, status)
}

func testGarbageCollect(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureGarbageCollect)
	var idx index

	for i := 0; i < 100; i++ {
		database.Store(db.ModeSet, fmt.Sprintf("key-%d", i), db.Item{Value: []byte("value"), ExpireAt: now + 5}, 0, idx.next(), now)
	}
	set(t, database, &idx, "stays", "v")
	require.Equal(t, int64(101), database.GetInfo().Items)

	// advance the engine clock past the expiry
	database.Store(db.ModeSet, "clock", db.Item{Value: []byte("tick")}, 0, idx.next(), now+10)

	require.Eventually(t, func() bool {
		return database.GetInfo().Items == 2
	}, 5*time.Second, 20*time.Millisecond)
	requireValue(t, database, "stays", "v", now+10)
}

func testFlushAll(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureFlush)
	var idx index

	for i := 0; i < 10; i++ {
		set(t, database, &idx, fmt.Sprintf("key-%d", i), "v")
	}
	database.FlushAll(now, idx.next(), now)

	for i := 0; i < 10; i++ {
		_, ok := database.Get(fmt.Sprintf("key-%d", i), now)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(0), database.GetInfo().Items)

	// writes after the flush are visible
	set(t, database, &idx, "after", "v")
	requireValue(t, database, "after", "v", now)
}

func testDelayedFlush(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureFlush)
	var idx index

	set(t, database, &idx, "before", "v")
	database.FlushAll(now+10, idx.next(), now)
	database.Store(db.ModeSet, "between", db.Item{Value: []byte("v")}, 0, idx.next(), now+5)

	requireValue(t, database, "before", "v", now+9)
	requireValue(t, database, "between", "v", now+9)

	_, ok := database.Get("before", now+10)
	assert.False(t, ok)
	_, ok = database.Get("between", now+10)
	assert.False(t, ok)

	database.Store(db.ModeSet, "later", db.Item{Value: []byte("v")}, 0, idx.next(), now+11)
	requireValue(t, database, "later", "v", now+11)
}

func testConcurrentIncrements(t *testing.T, database db.KVDB) {
	requireFeature(t, database, db.FeatureArithmetic)
	var idx index
	const workers, perWorker = 8, 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, _, status := database.Arithmetic("counter", true, 1, 1, true, 0, 0, idx.next(), now)
				assert.Equal(t, db.StatusOK, status)
			}
		}()
	}
	wg.Wait()
	requireValue(t, database, "counter", fmt.Sprint(workers*perWorker), now)
}

func testInfo(t *testing.T, database db.KVDB) {
	var idx index
	set(t, database, &idx, "a", "12345")
	set(t, database, &idx, "b", "123")
	set(t, database, &idx, "a", "1")

	info := database.GetInfo()
	assert.Equal(t, int64(2), info.Items)
	assert.Equal(t, int64(4), info.SizeBytes)
	assert.NotEmpty(t, info.SupportedFeatures)

	database.Delete("b", 0, idx.next(), now)
	assert.Equal(t, int64(1), database.GetInfo().Items)
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	requireFeature(t, factory(), db.FeatureSave|db.FeatureLoad)
	var idx index

	source := factory()
	defer source.Close()
	for i := 0; i < 1000; i++ {
		source.Store(db.ModeSet, fmt.Sprintf("key-%d", i), db.Item{Value: []byte(fmt.Sprintf("value-%d", i)), Flags: uint32(i)}, 0, idx.next(), now)
	}
	source.Store(db.ModeSet, "expiring", db.Item{Value: []byte("v"), ExpireAt: now + 60}, 0, idx.next(), now)
	source.Store(db.ModeSet, "expired", db.Item{Value: []byte("v"), ExpireAt: now - 1}, 0, idx.next(), now)

	var buf bytes.Buffer
	require.NoError(t, source.Save(&buf))

	target := factory()
	defer target.Close()
	require.NoError(t, target.Load(&buf))

	assert.Equal(t, source.WriteIdx(), target.WriteIdx())
	for i := 0; i < 1000; i++ {
		item, ok := target.Get(fmt.Sprintf("key-%d", i), now)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("value-%d", i), string(item.Value))
		assert.Equal(t, uint32(i), item.Flags)

		orig, _ := source.Get(fmt.Sprintf("key-%d", i), now)
		assert.Equal(t, orig.CAS, item.CAS)
	}
	item, ok := target.Get("expiring", now)
	require.True(t, ok)
	assert.Equal(t, now+60, item.ExpireAt)
	_, ok = target.Get("expired", now)
	assert.False(t, ok)
	assert.Equal(t, int64(1001), target.GetInfo().Items)

	assert.Error(t, target.Load(bytes.NewReader([]byte("NOTMAPLE"))))
}
