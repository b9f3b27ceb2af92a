package snapshotcache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
	"github.com/oriys/ignis/internal/snapshotcache"
)

func TestTryPutSingleWriterWins(t *testing.T) {
	c := snapshotcache.New(8)
	fid := domain.FunctionId("A")

	if !c.TryPut(fid, instancemgr.NewSnapshot(fid, "first")) {
		t.Fatal("first TryPut should succeed")
	}
	if c.TryPut(fid, instancemgr.NewSnapshot(fid, "second")) {
		t.Fatal("second TryPut for the same FunctionId must be rejected (I1)")
	}

	got, ok := c.Get(fid)
	if !ok || got.Handle() != "first" {
		t.Fatalf("expected first snapshot to win, got %+v ok=%v", got, ok)
	}
}

func TestTryPutRespectsCapacity(t *testing.T) {
	c := snapshotcache.New(1)
	if !c.TryPut("A", instancemgr.NewSnapshot("A", 1)) {
		t.Fatal("first insert under capacity should succeed")
	}
	if c.TryPut("B", instancemgr.NewSnapshot("B", 2)) {
		t.Fatal("insert at capacity must be rejected (I2)")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestColdStartDedupesConcurrentCallers(t *testing.T) {
	c := snapshotcache.New(8)
	var calls int32
	var wg sync.WaitGroup
	results := make([]bool, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, shared := c.ColdStart("A", func() (instancemgr.Snapshot, error) {
				atomic.AddInt32(&calls, 1)
				// Stay in flight long enough for every caller to join.
				time.Sleep(100 * time.Millisecond)
				return instancemgr.NewSnapshot("A", "boot-result"), nil
			})
			results[i] = shared
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected the cold-start function to run exactly once, ran %d times", got)
	}
}
