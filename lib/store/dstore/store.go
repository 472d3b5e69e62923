package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	"github.com/ValentinKolb/mcKV/lib/store"
	"github.com/ValentinKolb/mcKV/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/sony/gobreaker/v2"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// errBusy marks proposals that gave up after all retries
var errBusy = errors.New("system busy")

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[sm.Result]
	now     func() int64
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
//
// Proposals go through a circuit breaker: once most proposals of an interval fail
// (no quorum, timeouts) the store rejects writes with RetCBusy until the breaker
// lets a probe through again.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.IStore {
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		breaker: newBreaker(fmt.Sprintf("shard-%d", shardID), timeout),
		now:     func() int64 { return time.Now().Unix() },
	}
}

func newBreaker(name string, timeout time.Duration) *gobreaker.CircuitBreaker[sm.Result] {
	return gobreaker.NewCircuitBreaker[sm.Result](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * timeout,
		Timeout:     2 * timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warningf("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// propose sends a serialized command via SyncPropose and retries while the system is busy
func (s *storeImpl) propose(data []byte) (sm.Result, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		res, err := s.nh.SyncPropose(ctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}
		return res, err
	}
	return sm.Result{}, errBusy
}

// write proposes a Command and decodes the Result.
// Outcomes of conditional operations are returned as *store.Error, they do not
// count as failures for the circuit breaker.
func (s *storeImpl) write(cmd internal.Command) (internal.Result, error) {
	cmd.Now = s.now()
	data := cmd.Serialize()

	res, err := s.breaker.Execute(func() (sm.Result, error) {
		return s.propose(data)
	})

	var result internal.Result
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests), errors.Is(err, errBusy):
		return result, store.NewError(store.RetCBusy, err.Error())
	case err != nil:
		return result, store.NewError(store.RetCInternalError, err.Error())
	}

	if derr := result.Deserialize(res.Data); derr != nil {
		return result, store.NewError(store.RetCInternalError, derr.Error())
	}
	if res.Value != uint64(store.RetCSuccess) {
		return result, store.NewError(store.RetCode(res.Value), string(result.Value))
	}
	return result, nil
}

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragenboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
//
// It returns the response of type R and a error (nil on success).
func read[R any](r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	q.Now = r.now()
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the standmaschine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var storeErr *store.Error
			if errors.As(err, &storeErr) {
				return zero, storeErr
			}
			return zero, store.NewError(store.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCBusy, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Store(mode db.StoreMode, key string, item db.Item, cas uint64) (uint64, error) {
	res, err := s.write(internal.Command{
		Type:     internal.CommandTStore,
		Mode:     mode,
		Key:      key,
		Value:    item.Value,
		Flags:    item.Flags,
		ExpireAt: item.ExpireAt,
		CAS:      cas,
	})
	return res.CAS, err
}

func (s *storeImpl) Delete(key string, cas uint64) error {
	_, err := s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
		CAS:  cas,
	})
	return err
}

func (s *storeImpl) Arithmetic(key string, incr bool, delta, initial uint64, create bool, expireAt int64, cas uint64) (uint64, uint64, error) {
	res, err := s.write(internal.Command{
		Type:     internal.CommandTArithmetic,
		Key:      key,
		Incr:     incr,
		Create:   create,
		Delta:    delta,
		Initial:  initial,
		ExpireAt: expireAt,
		CAS:      cas,
	})
	return res.Number, res.CAS, err
}

func (s *storeImpl) Touch(key string, expireAt int64) (db.Item, error) {
	res, err := s.write(internal.Command{
		Type:     internal.CommandTTouch,
		Key:      key,
		ExpireAt: expireAt,
	})
	if err != nil {
		return db.Item{}, err
	}
	return res.Item(), nil
}

func (s *storeImpl) FlushAll(at int64) error {
	_, err := s.write(internal.Command{
		Type:     internal.CommandTFlush,
		ExpireAt: at,
	})
	return err
}

func (s *storeImpl) Get(key string) (db.Item, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return db.Item{}, false, err
	}
	return res.Item, res.Ok, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return read[db.DatabaseInfo](
		s,
		internal.Query{
			Type: internal.QueryTGetDBInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close stops the replica of the shard. The NodeHost is owned by the caller.
func (s *storeImpl) Close() error {
	if err := s.nh.StopShard(s.shardID); err != nil && !errors.Is(err, dragonboat.ErrShardNotFound) {
		return fmt.Errorf("failed to stop shard %d: %w", s.shardID, err)
	}
	return nil
}
