package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *mapleImpl {
	database := NewMapleDB(&DBOptions{NumShards: 2, GCInterval: 5 * time.Millisecond}).(*mapleImpl)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestFlushMarkKills(t *testing.T) {
	var mark *internal.FlushMark
	assert.False(t, mark.Kills(internal.Entry{CAS: 1}, 100), "nil mark kills nothing")

	mark = &internal.FlushMark{At: 100, Index: 10}
	tests := []struct {
		name  string
		entry internal.Entry
		now   int64
		dead  bool
	}{
		{"before due", internal.Entry{CAS: 5, Written: 50}, 99, false},
		{"written before flush", internal.Entry{CAS: 5, Written: 50}, 100, true},
		{"written before due", internal.Entry{CAS: 11, Written: 99}, 100, true},
		{"written after due", internal.Entry{CAS: 12, Written: 100}, 100, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.dead, mark.Kills(tc.entry, tc.now))
		})
	}
}

func TestDelayedFlushIsCollected(t *testing.T) {
	database := newTestDB(t)
	const now = int64(1000)

	for i, key := range []string{"a", "b", "c"} {
		database.Store(db.ModeSet, key, db.Item{Value: []byte("v")}, 0, uint64(i+1), now)
	}
	database.FlushAll(now+5, 4, now)
	assert.Equal(t, int64(3), database.GetInfo().Items, "delayed flush keeps items until due")

	database.Store(db.ModeSet, "late", db.Item{Value: []byte("v")}, 0, 5, now+5)

	require.Eventually(t, func() bool {
		return database.GetInfo().Items == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := database.Get("late", now+5)
	assert.True(t, ok)
}

func TestLaterFlushReplacesMark(t *testing.T) {
	database := newTestDB(t)
	const now = int64(1000)

	database.Store(db.ModeSet, "key", db.Item{Value: []byte("v")}, 0, 1, now)
	database.FlushAll(now+100, 2, now)
	database.FlushAll(now+10, 3, now)

	_, ok := database.Get("key", now+10)
	assert.False(t, ok)
	assert.Equal(t, now+10, database.flush.Load().At)
}

func TestRewriteRemovesExpiration(t *testing.T) {
	database := newTestDB(t)
	const now = int64(1000)

	database.Store(db.ModeSet, "key", db.Item{Value: []byte("v1"), ExpireAt: now + 1}, 0, 1, now)
	database.Store(db.ModeSet, "key", db.Item{Value: []byte("v2")}, 0, 2, now)
	database.Store(db.ModeSet, "tick", db.Item{Value: []byte("v")}, 0, 3, now+10)

	// give the collector a few cycles
	time.Sleep(50 * time.Millisecond)
	item, ok := database.Get("key", now+10)
	require.True(t, ok)
	assert.Equal(t, "v2", string(item.Value))
	assert.Equal(t, int64(2), database.GetInfo().Items)
}

func TestCASIsWriteIndex(t *testing.T) {
	database := newTestDB(t)

	_, cas := database.Store(db.ModeSet, "key", db.Item{Value: []byte("v")}, 0, 42, 1)
	assert.Equal(t, uint64(42), cas)

	item, status := database.Touch("key", 100, 43, 1)
	require.Equal(t, db.StatusOK, status)
	assert.Equal(t, uint64(42), item.CAS, "touch keeps the cas")
	assert.Equal(t, uint64(43), database.WriteIdx())
}

func TestClockIsMonotonic(t *testing.T) {
	database := newTestDB(t)
	database.Store(db.ModeSet, "a", db.Item{Value: []byte("v")}, 0, 1, 500)
	database.Store(db.ModeSet, "b", db.Item{Value: []byte("v")}, 0, 2, 400)
	assert.Equal(t, int64(500), database.clock.Load())
}
