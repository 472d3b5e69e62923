package lstore

import (
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	index atomic.Uint64
	now   func() int64
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
func NewLocalStore(factory store.DBFactory) store.IStore {
	return &storeImpl{
		db:  factory(),
		now: func() int64 { return time.Now().Unix() },
	}
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

func (s *storeImpl) require(feature db.Feature, op string) error {
	if !s.db.SupportsFeature(feature) {
		return store.NewError(store.RetCUnsupportedOperation, op+" operation is not supported")
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Store(mode db.StoreMode, key string, item db.Item, cas uint64) (uint64, error) {
	feature := db.FeatureStore
	if mode == db.ModeAppend || mode == db.ModePrepend {
		feature = db.FeatureConcat
	}
	if err := s.require(feature, mode.String()); err != nil {
		return 0, err
	}
	status, newCAS := s.db.Store(mode, key, item, cas, s.incAndGetIndex(), s.now())
	return newCAS, store.FromStatus(status, key)
}

func (s *storeImpl) Delete(key string, cas uint64) error {
	if err := s.require(db.FeatureDelete, "Delete"); err != nil {
		return err
	}
	return store.FromStatus(s.db.Delete(key, cas, s.incAndGetIndex(), s.now()), key)
}

func (s *storeImpl) Arithmetic(key string, incr bool, delta, initial uint64, create bool, expireAt int64, cas uint64) (uint64, uint64, error) {
	if err := s.require(db.FeatureArithmetic, "Arithmetic"); err != nil {
		return 0, 0, err
	}
	value, newCAS, status := s.db.Arithmetic(key, incr, delta, initial, create, expireAt, cas, s.incAndGetIndex(), s.now())
	return value, newCAS, store.FromStatus(status, key)
}

func (s *storeImpl) Touch(key string, expireAt int64) (db.Item, error) {
	if err := s.require(db.FeatureTouch, "Touch"); err != nil {
		return db.Item{}, err
	}
	item, status := s.db.Touch(key, expireAt, s.incAndGetIndex(), s.now())
	return item, store.FromStatus(status, key)
}

func (s *storeImpl) FlushAll(at int64) error {
	if err := s.require(db.FeatureFlush, "FlushAll"); err != nil {
		return err
	}
	s.db.FlushAll(at, s.incAndGetIndex(), s.now())
	return nil
}

func (s *storeImpl) Get(key string) (db.Item, bool, error) {
	if err := s.require(db.FeatureGet, "Get"); err != nil {
		return db.Item{}, false, err
	}
	item, ok := s.db.Get(key, s.now())
	return item, ok, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}
