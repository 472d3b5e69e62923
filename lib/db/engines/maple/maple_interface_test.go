package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/mcKV/lib/db"
	dbtesting "github.com/ValentinKolb/mcKV/lib/db/testing"
)

func factory() db.KVDB {
	return NewMapleDB(&DBOptions{NumShards: 4, GCInterval: 10 * time.Millisecond})
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", factory)
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}
