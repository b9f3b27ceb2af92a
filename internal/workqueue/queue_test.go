package workqueue_test

import (
	"testing"
	"time"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/workqueue"
)

func TestAddTakeFIFO(t *testing.T) {
	q := workqueue.New(4)
	inv1 := domain.Invocation{Info: domain.InvocationInfo{TransactionId: "t1"}}
	inv2 := domain.Invocation{Info: domain.InvocationInfo{TransactionId: "t2"}}

	q.Add(inv1)
	q.Add(inv2)

	got1, ok := q.Take()
	if !ok || got1.Info.TransactionId != "t1" {
		t.Fatalf("expected t1 first, got %+v ok=%v", got1, ok)
	}
	got2, ok := q.Take()
	if !ok || got2.Info.TransactionId != "t2" {
		t.Fatalf("expected t2 second, got %+v ok=%v", got2, ok)
	}
	if _, ok := q.Take(); ok {
		t.Fatal("expected empty queue to report false")
	}
}

func TestAddWakesAllCores(t *testing.T) {
	q := workqueue.New(3)
	q.Add(domain.Invocation{Info: domain.InvocationInfo{TransactionId: "t1"}})

	for i := 0; i < 3; i++ {
		select {
		case <-q.Pokes(i):
		case <-time.After(time.Second):
			t.Fatalf("core %d was not woken", i)
		}
	}
}

func TestAddDuplicateTransactionIdPanics(t *testing.T) {
	q := workqueue.New(1)
	q.Add(domain.Invocation{Info: domain.InvocationInfo{TransactionId: "dup"}})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate TransactionId")
		}
	}()
	q.Add(domain.Invocation{Info: domain.InvocationInfo{TransactionId: "dup"}})
}
