package lstore

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*storeImpl, *atomic.Int64) {
	var clock atomic.Int64
	clock.Store(1_700_000_000)
	s := NewLocalStore(func() db.KVDB { return maple.NewMapleDB(nil) }).(*storeImpl)
	s.now = clock.Load
	t.Cleanup(func() { _ = s.Close() })
	return s, &clock
}

func requireCode(t *testing.T, err error, code store.RetCode) {
	var storeErr *store.Error
	require.True(t, errors.As(err, &storeErr), "expected store error, got %v", err)
	assert.Equal(t, code, storeErr.Code)
}

func TestStoreAndGet(t *testing.T) {
	s, _ := newTestStore(t)

	cas, err := s.Store(db.ModeSet, "key", db.Item{Value: []byte("value"), Flags: 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cas)

	item, ok, err := s.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "value", string(item.Value))
	assert.Equal(t, uint32(3), item.Flags)
	assert.Equal(t, cas, item.CAS)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConditionalErrors(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Store(db.ModeReplace, "key", db.Item{Value: []byte("v")}, 0)
	requireCode(t, err, store.RetCNotFound)

	cas, err := s.Store(db.ModeAdd, "key", db.Item{Value: []byte("v")}, 0)
	require.NoError(t, err)

	_, err = s.Store(db.ModeAdd, "key", db.Item{Value: []byte("v")}, 0)
	requireCode(t, err, store.RetCExists)

	_, err = s.Store(db.ModeAppend, "missing", db.Item{Value: []byte("v")}, 0)
	requireCode(t, err, store.RetCNotStored)

	requireCode(t, s.Delete("key", cas+100), store.RetCExists)
	require.NoError(t, s.Delete("key", cas))
	requireCode(t, s.Delete("key", 0), store.RetCNotFound)
}

func TestArithmeticAndTouch(t *testing.T) {
	s, clock := newTestStore(t)

	value, _, err := s.Arithmetic("counter", true, 5, 100, true, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), value)

	value, _, err = s.Arithmetic("counter", false, 1, 0, false, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), value)

	_, err = s.Store(db.ModeSet, "text", db.Item{Value: []byte("abc")}, 0)
	require.NoError(t, err)
	_, _, err = s.Arithmetic("text", true, 1, 0, false, 0, 0)
	requireCode(t, err, store.RetCNonNumeric)

	item, err := s.Touch("counter", clock.Load()+10)
	require.NoError(t, err)
	assert.Equal(t, "99", string(item.Value))

	clock.Add(10)
	_, ok, err := s.Get("counter")
	require.NoError(t, err)
	assert.False(t, ok, "touched item expires")

	_, err = s.Touch("counter", 0)
	requireCode(t, err, store.RetCNotFound)
}

func TestFlushAll(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.Store(db.ModeSet, "key", db.Item{Value: []byte("v")}, 0)
	require.NoError(t, err)
	require.NoError(t, s.FlushAll(clock.Load()+5))

	_, ok, _ := s.Get("key")
	assert.True(t, ok)

	clock.Add(5)
	_, ok, _ = s.Get("key")
	assert.False(t, ok)

	info, err := s.GetDBInfo()
	require.NoError(t, err)
	assert.Equal(t, db.ImplMaple, info.DbType)
}
