package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mcKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run("Set", func(b *testing.B) {
		benchmarkSet(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Increment", func(b *testing.B) {
		benchmarkIncrement(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { _ = database.Close() })
	requireFeature(b, database, db.FeatureStore)

	var idx index
	value := []byte("benchmark-value")
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Store(db.ModeSet, fmt.Sprintf("key-%d", counter), db.Item{Value: value}, 0, idx.next(), now)
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { _ = database.Close() })
	requireFeature(b, database, db.FeatureStore|db.FeatureGet)

	const keys = 10_000
	var idx index
	for i := 0; i < keys; i++ {
		database.Store(db.ModeSet, fmt.Sprintf("key-%d", i), db.Item{Value: []byte("value")}, 0, idx.next(), now)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			database.Get(fmt.Sprintf("key-%d", rnd.Intn(keys)), now)
		}
	})
}

func benchmarkIncrement(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { _ = database.Close() })
	requireFeature(b, database, db.FeatureArithmetic)

	var idx index
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			database.Arithmetic("counter", true, 1, 0, true, 0, 0, idx.next(), now)
		}
	})
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() { _ = database.Close() })
	requireFeature(b, database, db.FeatureSave|db.FeatureLoad)

	var idx index
	for i := 0; i < 100_000; i++ {
		database.Store(db.ModeSet, fmt.Sprintf("key-%d", i), db.Item{Value: []byte("value")}, 0, idx.next(), now)
	}

	var snapshot bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			snapshot.Reset()
			if err := database.Save(&snapshot); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// benchmarkMixedUsage simulates a cache workload with 80% reads
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { _ = database.Close() })

	const keys = 10_000
	var (
		idx  index
		miss atomic.Int64
	)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", rnd.Intn(keys))
			switch op := rnd.Intn(10); {
			case op < 8:
				if _, ok := database.Get(key, now); !ok {
					miss.Add(1)
				}
			case op == 8:
				database.Store(db.ModeSet, key, db.Item{Value: []byte("value"), ExpireAt: now + 60}, 0, idx.next(), now)
			default:
				database.Delete(key, 0, idx.next(), now)
			}
		}
	})
	b.ReportMetric(float64(miss.Load())/float64(b.N), "miss/op")
}
