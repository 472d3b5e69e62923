package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const now = int64(1_700_000_000)

func newTestFSM(t *testing.T) sm.IConcurrentStateMachine {
	fsm := CreateStateMaschineFactory(func() db.KVDB { return maple.NewMapleDB(nil) })(1, 1)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

// apply runs a batch of commands starting at the given raft index
func apply(t *testing.T, fsm sm.IConcurrentStateMachine, first uint64, cmds ...internal.Command) []sm.Entry {
	entries := make([]sm.Entry, len(cmds))
	for i := range cmds {
		cmds[i].Now = now
		entries[i] = sm.Entry{Index: first + uint64(i), Cmd: cmds[i].Serialize()}
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)
	return out
}

func decode(t *testing.T, e sm.Entry) internal.Result {
	var res internal.Result
	require.NoError(t, res.Deserialize(e.Result.Data))
	return res
}

func lookup(t *testing.T, fsm sm.IConcurrentStateMachine, key string) internal.QueryResult {
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: key, Now: now})
	require.NoError(t, err)
	return res.(internal.QueryResult)
}

func TestUpdateUsesLogIndexAsCAS(t *testing.T) {
	fsm := newTestFSM(t)

	out := apply(t, fsm, 10,
		internal.Command{Type: internal.CommandTStore, Mode: db.ModeSet, Key: "key", Value: []byte("v1"), Flags: 5},
		internal.Command{Type: internal.CommandTStore, Mode: db.ModeAdd, Key: "key", Value: []byte("v2")},
		internal.Command{Type: internal.CommandTStore, Mode: db.ModeAppend, Key: "key", Value: []byte("+")},
	)

	assert.Equal(t, uint64(store.RetCSuccess), out[0].Result.Value)
	assert.Equal(t, uint64(10), decode(t, out[0]).CAS)
	assert.Equal(t, uint64(store.RetCExists), out[1].Result.Value)
	assert.Equal(t, uint64(store.RetCSuccess), out[2].Result.Value)

	res := lookup(t, fsm, "key")
	require.True(t, res.Ok)
	assert.Equal(t, "v1+", string(res.Item.Value))
	assert.Equal(t, uint32(5), res.Item.Flags)
	assert.Equal(t, uint64(12), res.Item.CAS)
}

func TestUpdateArithmeticTouchDeleteFlush(t *testing.T) {
	fsm := newTestFSM(t)

	out := apply(t, fsm, 1,
		internal.Command{Type: internal.CommandTArithmetic, Key: "n", Incr: true, Create: true, Initial: 7, Delta: 1},
		internal.Command{Type: internal.CommandTArithmetic, Key: "n", Incr: true, Delta: 3},
		internal.Command{Type: internal.CommandTTouch, Key: "n", ExpireAt: now + 100},
		internal.Command{Type: internal.CommandTDelete, Key: "missing"},
	)
	assert.Equal(t, uint64(7), decode(t, out[0]).Number)
	assert.Equal(t, uint64(10), decode(t, out[1]).Number)

	touchedRes := decode(t, out[2])
	touched := touchedRes.Item()
	assert.Equal(t, "10", string(touched.Value))
	assert.Equal(t, now+100, touched.ExpireAt)
	assert.Equal(t, uint64(store.RetCNotFound), out[3].Result.Value)
	assert.Contains(t, string(decode(t, out[3]).Value), "missing")

	out = apply(t, fsm, 5, internal.Command{Type: internal.CommandTFlush})
	assert.Equal(t, uint64(store.RetCSuccess), out[0].Result.Value)
	assert.False(t, lookup(t, fsm, "n").Ok)
}

func TestUpdateRejectsInvalidEntries(t *testing.T) {
	fsm := newTestFSM(t)

	entries := []sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2, 3}},
		{Index: 3, Cmd: (&internal.Command{Type: internal.CommandType(42)}).Serialize()},
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)
	assert.Equal(t, uint64(store.RetCInvalidOperation), out[0].Result.Value)
	assert.Equal(t, uint64(store.RetCInternalError), out[1].Result.Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), out[2].Result.Value)

	_, err = fsm.Lookup("not a query")
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	source := newTestFSM(t)
	apply(t, source, 1,
		internal.Command{Type: internal.CommandTStore, Key: "a", Value: []byte("1")},
		internal.Command{Type: internal.CommandTStore, Key: "b", Value: []byte("2")},
	)

	var buf bytes.Buffer
	require.NoError(t, source.SaveSnapshot(nil, &buf, nil, nil))

	target := newTestFSM(t)
	require.NoError(t, target.RecoverFromSnapshot(&buf, nil, nil))
	assert.Equal(t, "2", string(lookup(t, target, "b").Item.Value))

	info, err := target.Lookup(internal.Query{Type: internal.QueryTGetDBInfo})
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.(db.DatabaseInfo).Items)
}
