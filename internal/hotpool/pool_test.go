package hotpool_test

import (
	"testing"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/hotpool"
	"github.com/oriys/ignis/internal/instancemgr"
)

func TestTryStashThenTake(t *testing.T) {
	p := hotpool.New(2, 3)
	fid := domain.FunctionId("A")
	inst := &instancemgr.Instance{ID: "i1", FunctionId: fid}

	if !p.TryStash(fid, inst) {
		t.Fatal("expected stash to succeed")
	}
	if !p.Has(fid) {
		t.Fatal("expected Has(fid) true after stash")
	}
	got := p.Take(fid)
	if got.ID != inst.ID {
		t.Fatalf("Take returned %v, want %v", got.ID, inst.ID)
	}
	if p.Has(fid) {
		t.Fatal("expected Has(fid) false after take")
	}
}

func TestTryStashRejectsDuplicateFunction(t *testing.T) {
	p := hotpool.New(2, 5)
	fid := domain.FunctionId("A")
	p.TryStash(fid, &instancemgr.Instance{ID: "i1"})
	if p.TryStash(fid, &instancemgr.Instance{ID: "i2"}) {
		t.Fatal("expected second stash for the same fid to be rejected")
	}
}

func TestTryStashRespectsHotCap(t *testing.T) {
	p := hotpool.New(1, 5)
	p.TryStash("A", &instancemgr.Instance{ID: "i1"})
	if p.TryStash("B", &instancemgr.Instance{ID: "i2"}) {
		t.Fatal("expected stash beyond HOT_CAP to be rejected (I2)")
	}
}

func TestTryStashRespectsReuseCap(t *testing.T) {
	p := hotpool.New(5, 2)
	inst := &instancemgr.Instance{ID: "i1"}

	if !p.TryStash("A", inst) {
		t.Fatal("first stash should succeed")
	}
	taken := p.Take("A")
	if !p.TryStash("A", taken) {
		t.Fatal("second stash (uses=2) should still satisfy REUSE_CAP=2")
	}
	if p.Uses("i1") != 2 {
		t.Fatalf("Uses = %d, want 2", p.Uses("i1"))
	}
	taken = p.Take("A")
	if p.TryStash("A", taken) {
		t.Fatal("third stash must be rejected once uses[iid]+1 > REUSE_CAP")
	}
}

func TestTakeOnAbsentPanics(t *testing.T) {
	p := hotpool.New(1, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected Take on an absent entry to panic")
		}
	}()
	p.Take("missing")
}
