package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage
}

// CreateStateMaschineFactory returns a function that can be used by dragenboat to create a new standmaschine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMaschineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  dbFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		item, ok := fsm.database.Get(q.Key, q.Now)
		return internal.QueryResult{
			Item: item,
			Ok:   ok,
		}, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// fail builds the result of a command that was not applied
func fail(code store.RetCode, msg string) sm.Result {
	res := internal.Result{Value: []byte(msg)}
	return sm.Result{Value: uint64(code), Data: res.Serialize()}
}

// complete builds the result of an applied command
func complete(status db.Status, key string, res internal.Result) sm.Result {
	if err := store.FromStatus(status, key); err != nil {
		return fail(err.(*store.Error).Code, err.Error())
	}
	return sm.Result{Value: uint64(store.RetCSuccess), Data: res.Serialize()}
}

// apply executes a single command, the raft log index is the write index
func (fsm *KVStateMachine) apply(cmd *internal.Command, index uint64) sm.Result {
	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		return fail(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
	if cmd.Type == internal.CommandTStore && (cmd.Mode == db.ModeAppend || cmd.Mode == db.ModePrepend) {
		feat = db.FeatureConcat
	}
	if !fsm.database.SupportsFeature(feat) {
		return fail(store.RetCUnsupportedOperation, fmt.Sprintf("%s operation is not suported", cmd.Type))
	}

	switch cmd.Type {
	case internal.CommandTStore:
		item := db.Item{Value: cmd.Value, Flags: cmd.Flags, ExpireAt: cmd.ExpireAt}
		status, cas := fsm.database.Store(cmd.Mode, cmd.Key, item, cmd.CAS, index, cmd.Now)
		return complete(status, cmd.Key, internal.Result{CAS: cas})
	case internal.CommandTDelete:
		status := fsm.database.Delete(cmd.Key, cmd.CAS, index, cmd.Now)
		return complete(status, cmd.Key, internal.Result{})
	case internal.CommandTArithmetic:
		value, cas, status := fsm.database.Arithmetic(cmd.Key, cmd.Incr, cmd.Delta, cmd.Initial, cmd.Create, cmd.ExpireAt, cmd.CAS, index, cmd.Now)
		return complete(status, cmd.Key, internal.Result{CAS: cas, Number: value})
	case internal.CommandTTouch:
		item, status := fsm.database.Touch(cmd.Key, cmd.ExpireAt, index, cmd.Now)
		return complete(status, cmd.Key, internal.Result{CAS: item.CAS, Flags: item.Flags, ExpireAt: item.ExpireAt, Value: item.Value})
	case internal.CommandTFlush:
		fsm.database.FlushAll(cmd.ExpireAt, index, cmd.Now)
		return complete(db.StatusOK, "", internal.Result{})
	default:
		return fail(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

// Update handles write commands on the KVDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	var cmd internal.Command
	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = fail(store.RetCInvalidOperation, "empty command ignored")
			continue
		}
		// Deserialize the command, the value buffer is reused across the batch
		// and copied by the engine on write
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = fail(store.RetCInternalError, fmt.Sprintf("failed to deserialize command: %v", err))
			continue
		}
		entries[idx].Result = fsm.apply(&cmd, e.Index)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Statemashine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implemantation does not supports Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot restores the database from a snapshot
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implemantation does not supports Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
