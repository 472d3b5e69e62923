package maple

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/mcKV/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum          = "MAPLEDB\x00"          // File format identifier
	mapleVersion      = 4                      // Database version
	defaultGCInterval = 100 * time.Millisecond // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a cache engine with sharded data
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for shard selection
	shards    []*internal.Shard // Array of shards
	currIndex atomic.Uint64     // Largest write index seen
	clock     atomic.Int64      // Largest now seen (engine time)

	flush atomic.Pointer[internal.FlushMark]

	// exact counters, include dead entries not yet collected
	items atomic.Int64
	bytes atomic.Int64

	// garbage collection
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcStop      chan struct{}
	gcDone      sync.WaitGroup
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards  int           // Number of shards (0 = auto)
	GCInterval time.Duration // Time between GC runs (0 = use default)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}

	newDB := &mapleImpl{
		numShards:  opts.NumShards,
		seed:       util.GenerateSeed(),
		gcInterval: opts.GCInterval,
	}
	newDB.shards = newShards(opts.NumShards)
	newDB.startGC()
	return newDB
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard(util.HashString)
	}
	return shards
}

func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// tick advances the write index and the engine clock
func (maple *mapleImpl) tick(writeIdx uint64, now int64) {
	maple.SetWriteIdx(writeIdx)
	for {
		curr := maple.clock.Load()
		if now <= curr || maple.clock.CompareAndSwap(curr, now) {
			return
		}
	}
}

// live reports whether e is visible at now
func (maple *mapleImpl) live(e internal.Entry, now int64) bool {
	return !e.Expired(now) && !maple.flush.Load().Kills(e, now)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

type action int

const (
	actionKeep action = iota
	actionWrite
	actionDelete
)

// compute is the shared implementation of all write operations.
// fn sees the current entry and whether it is live, it returns the new entry
// and what to do with it. compute keeps the counters and the garbage collector
// up to date.
//
// Thread-safety: fn runs atomically for the key.
func (maple *mapleImpl) compute(key string, now int64, fn func(old internal.Entry, loaded bool) (internal.Entry, action)) {
	shard := maple.shardFor(key)
	var event *internal.Event

	shard.Data.Compute(key, func(old internal.Entry, exists bool) (internal.Entry, bool) {
		entry, act := fn(old, exists && maple.live(old, now))
		switch act {
		case actionWrite:
			if exists {
				maple.bytes.Add(int64(len(entry.Value) - len(old.Value)))
			} else {
				maple.items.Add(1)
				maple.bytes.Add(int64(len(entry.Value)))
			}
			if entry.ExpireAt != 0 || old.ExpireAt != 0 {
				event = &internal.Event{Type: internal.EventTWrite, Key: key}
			}
			return entry, false
		case actionDelete:
			if !exists {
				return old, true
			}
			maple.items.Add(-1)
			maple.bytes.Add(-int64(len(old.Value)))
			event = &internal.Event{Type: internal.EventTDelete, Key: key}
			return old, true
		default:
			// delete=true on a missing key keeps it missing
			return old, !exists
		}
	})

	if event != nil {
		shard.Events.Push(*event)
	}
}

// Store writes an item with set, add, replace, append or prepend semantics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Store(mode db.StoreMode, key string, item db.Item, cas uint64, writeIdx uint64, now int64) (db.Status, uint64) {
	maple.tick(writeIdx, now)

	// Copy value to prevent memory corruption
	valueCopy := make([]byte, len(item.Value))
	copy(valueCopy, item.Value)

	status := db.StatusOK
	maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
		if cas != 0 {
			if !loaded {
				status = db.StatusNotFound
				return old, actionKeep
			}
			if old.CAS != cas {
				status = db.StatusExists
				return old, actionKeep
			}
		}

		switch mode {
		case db.ModeAdd:
			if loaded {
				status = db.StatusExists
				return old, actionKeep
			}
		case db.ModeReplace:
			if !loaded {
				status = db.StatusNotFound
				return old, actionKeep
			}
		case db.ModeAppend, db.ModePrepend:
			if !loaded {
				status = db.StatusNotStored
				return old, actionKeep
			}
			joined := make([]byte, 0, len(old.Value)+len(valueCopy))
			if mode == db.ModeAppend {
				joined = append(append(joined, old.Value...), valueCopy...)
			} else {
				joined = append(append(joined, valueCopy...), old.Value...)
			}
			return internal.Entry{
				Value:    joined,
				Flags:    old.Flags,
				ExpireAt: old.ExpireAt,
				Written:  now,
				CAS:      writeIdx,
			}, actionWrite
		}

		return internal.Entry{
			Value:    valueCopy,
			Flags:    item.Flags,
			ExpireAt: item.ExpireAt,
			Written:  now,
			CAS:      writeIdx,
		}, actionWrite
	})

	if status != db.StatusOK {
		return status, 0
	}
	return status, writeIdx
}

// Delete removes an entry with the specified key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, cas uint64, writeIdx uint64, now int64) db.Status {
	maple.tick(writeIdx, now)

	status := db.StatusOK
	maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
		if !loaded {
			status = db.StatusNotFound
			return old, actionKeep
		}
		if cas != 0 && old.CAS != cas {
			status = db.StatusExists
			return old, actionKeep
		}
		return old, actionDelete
	})
	return status
}

// Arithmetic increments or decrements a decimal counter.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Arithmetic(key string, incr bool, delta, initial uint64, create bool, expireAt int64, cas uint64, writeIdx uint64, now int64) (uint64, uint64, db.Status) {
	maple.tick(writeIdx, now)

	var (
		status = db.StatusOK
		result uint64
	)
	maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
		if !loaded {
			if cas != 0 || !create {
				status = db.StatusNotFound
				return old, actionKeep
			}
			result = initial
			return internal.Entry{
				Value:    []byte(strconv.FormatUint(initial, 10)),
				ExpireAt: expireAt,
				Written:  now,
				CAS:      writeIdx,
			}, actionWrite
		}
		if cas != 0 && old.CAS != cas {
			status = db.StatusExists
			return old, actionKeep
		}

		current, err := strconv.ParseUint(string(bytes.TrimSpace(old.Value)), 10, 64)
		if err != nil {
			status = db.StatusNonNumeric
			return old, actionKeep
		}
		switch {
		case incr:
			result = current + delta // wraps at 64 bit
		case delta > current:
			result = 0
		default:
			result = current - delta
		}
		return internal.Entry{
			Value:    []byte(strconv.FormatUint(result, 10)),
			Flags:    old.Flags,
			ExpireAt: old.ExpireAt,
			Written:  now,
			CAS:      writeIdx,
		}, actionWrite
	})

	if status != db.StatusOK {
		return 0, 0, status
	}
	return result, writeIdx, status
}

// Touch changes the expiration of an existing entry and returns a copy of it.
// The CAS token of the entry does not change.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Touch(key string, expireAt int64, writeIdx uint64, now int64) (db.Item, db.Status) {
	maple.tick(writeIdx, now)

	var (
		status = db.StatusOK
		item   db.Item
	)
	maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
		if !loaded {
			status = db.StatusNotFound
			return old, actionKeep
		}
		old.ExpireAt = expireAt
		item = toItem(old)
		return old, actionWrite
	})
	return item, status
}

// FlushAll invalidates all entries once the engine time reaches at.
// An immediate flush removes the entries right away.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) FlushAll(at int64, writeIdx uint64, now int64) {
	maple.tick(writeIdx, now)
	if at < now {
		at = now
	}
	maple.flush.Store(&internal.FlushMark{At: at, Index: writeIdx})

	if at <= now {
		for _, shard := range maple.shards {
			maple.sweep(shard, now)
		}
	}
}

// sweep removes all dead entries of a shard
func (maple *mapleImpl) sweep(shard *internal.Shard, now int64) {
	var dead []string
	shard.Data.Range(func(key string, e internal.Entry) bool {
		if !maple.live(e, now) {
			dead = append(dead, key)
		}
		return true
	})
	for _, key := range dead {
		maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
			if loaded {
				// written again in the meantime
				return old, actionKeep
			}
			return old, actionDelete
		})
	}
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

func toItem(e internal.Entry) db.Item {
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	return db.Item{Value: value, Flags: e.Flags, ExpireAt: e.ExpireAt, CAS: e.CAS}
}

// Get retrieves a live item for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string, now int64) (db.Item, bool) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok || !maple.live(e, now) {
		return db.Item{}, false
	}
	return toItem(e), true
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
func (maple *mapleImpl) startGC() {
	if maple.gcIsRunning.CompareAndSwap(false, true) {
		maple.gcStop = make(chan struct{})
		for _, shard := range maple.shards {
			maple.gcDone.Add(1)
			go maple.garbageCollector(shard, maple.gcStop)
		}
	}
}

// stopGC stops the garbage collector and waits until all shards stopped.
// if the GC is not running, this function does nothing.
func (maple *mapleImpl) stopGC() {
	if maple.gcIsRunning.CompareAndSwap(true, false) {
		close(maple.gcStop)
		maple.gcDone.Wait()
	}
}

// garbageCollector removes expired and flushed entries of one shard.
// WARNING: this method should never be called! to enable GC, use startGC() and stopGC()
func (maple *mapleImpl) garbageCollector(shard *internal.Shard, stop <-chan struct{}) {
	defer maple.gcDone.Done()

	gcTimer := time.NewTicker(maple.gcInterval)
	defer gcTimer.Stop()

	handle := func(event internal.Event) {
		switch event.Type {
		case internal.EventTWrite:
			if entry, ok := shard.Data.Load(event.Key); ok && entry.ExpireAt != 0 {
				shard.ExpireHeap.AddItem(event.Key, entry.ExpireAt)
			} else {
				shard.ExpireHeap.RemoveByKey(event.Key)
			}
		case internal.EventTDelete:
			shard.ExpireHeap.RemoveByKey(event.Key)
		default:
			panic(fmt.Sprintf("unknown event %s", event))
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-shard.Events.Notify():
			shard.Events.Drain(handle)
			continue
		case <-gcTimer.C:
		}

		shard.Events.Drain(handle)

		// the clock is read once per cycle so that a moving clock cannot keep the loop going
		now := maple.clock.Load()

		for {
			it, exists := shard.ExpireHeap.Peek()
			if !exists || it.Priority > now {
				break
			}
			key := it.Key
			maple.compute(key, now, func(old internal.Entry, loaded bool) (internal.Entry, action) {
				if !old.Expired(now) {
					// the entry was rewritten, its write event re-adds it to the heap
					return old, actionKeep
				}
				return old, actionDelete
			})
			shard.ExpireHeap.RemoveByKey(key)
		}

		if mark := maple.flush.Load(); mark != nil && mark != shard.SweptFlush && now >= mark.At {
			maple.sweep(shard, now)
			shard.SweptFlush = mark
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer
// Concurrent reading and writing is allowed during Save operation
//
// Thread-safety: This function allows concurrent operations with all other functions
// except Load. It takes snapshots of the data without blocking modifications.
func (maple *mapleImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)

	type entryToSave struct {
		key   string
		entry internal.Entry
	}

	now := maple.clock.Load()
	var entries []entryToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, entry internal.Entry) bool {
			if !maple.live(entry, now) {
				return true
			}
			entry.Value = bytes.Clone(entry.Value)
			entries = append(entries, entryToSave{key, entry})
			return true
		})
	}

	var flushAt int64
	var flushIdx uint64
	if mark := maple.flush.Load(); mark != nil {
		flushAt, flushIdx = mark.At, mark.Index
	}

	header := []any{
		uint8(mapleVersion),
		maple.currIndex.Load(),
		now,
		flushAt,
		flushIdx,
		uint64(len(entries)),
	}
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, item := range entries {
		fields := []any{
			uint16(len(item.key)),
			[]byte(item.key),
			item.entry.Flags,
			item.entry.ExpireAt,
			item.entry.Written,
			item.entry.CAS,
			uint32(len(item.entry.Value)),
			item.entry.Value,
		}
		for _, v := range fields {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// Load restores a database from the reader
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {
	maple.stopGC()
	defer maple.startGC()

	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var (
		writeIdx, flushIdx, count uint64
		clock, flushAt            int64
	)
	for _, v := range []any{&writeIdx, &clock, &flushAt, &flushIdx, &count} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	shards := newShards(maple.numShards)
	var items, size int64

	for i := uint64(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var (
			entry    internal.Entry
			valueLen uint32
		)
		for _, v := range []any{&entry.Flags, &entry.ExpireAt, &entry.Written, &entry.CAS, &valueLen} {
			if err := binary.Read(br, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		entry.Value = make([]byte, valueLen)
		if _, err := io.ReadFull(br, entry.Value); err != nil {
			return err
		}

		shard := internal.GetShard(util.HashString(string(key), maple.seed), shards)
		shard.Data.Store(string(key), entry)
		// the gc is stopped, the heap can be filled directly
		if entry.ExpireAt != 0 {
			shard.ExpireHeap.AddItem(string(key), entry.ExpireAt)
		}
		items++
		size += int64(valueLen)
	}

	maple.shards = shards
	maple.items.Store(items)
	maple.bytes.Store(size)
	maple.currIndex.Store(writeIdx)
	maple.clock.Store(clock)
	if flushIdx != 0 || flushAt != 0 {
		maple.flush.Store(&internal.FlushMark{At: flushAt, Index: flushIdx})
	} else {
		maple.flush.Store(nil)
	}
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	shardSizes := make([]int, len(maple.shards))
	minShard, maxShard := -1, 0
	for i, shard := range maple.shards {
		shardSizes[i] = shard.Data.Size()
		if minShard < 0 || shardSizes[i] < minShard {
			minShard = shardSizes[i]
		}
		maxShard = max(maxShard, shardSizes[i])
	}

	var flushAt int64
	if mark := maple.flush.Load(); mark != nil {
		flushAt = mark.At
	}

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		Clock             int64  `json:"clock"`
		ShardCount        int    `json:"shard_count"`
		MinShardSize      int    `json:"min_shard_size"`
		MaxShardSize      int    `json:"max_shard_size"`
		FlushAt           int64  `json:"flush_at"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		Clock:             maple.clock.Load(),
		ShardCount:        len(maple.shards),
		MinShardSize:      max(minShard, 0),
		MaxShardSize:      maxShard,
		FlushAt:           flushAt,
	}

	return db.DatabaseInfo{
		Items:     maple.items.Load(),
		SizeBytes: maple.bytes.Load(),
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureStore, db.FeatureConcat, db.FeatureArithmetic,
			db.FeatureTouch, db.FeatureFlush, db.FeatureGet, db.FeatureDelete,
			db.FeatureSave, db.FeatureLoad, db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureStore |
		db.FeatureConcat |
		db.FeatureArithmetic |
		db.FeatureTouch |
		db.FeatureFlush |
		db.FeatureGet |
		db.FeatureDelete |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect
	return supportedFeatures&feature == feature
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
