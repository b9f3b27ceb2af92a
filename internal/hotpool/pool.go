// Package hotpool implements the Hot-Instance Pool (C4): per core, a short
// FIFO of idle-but-booted instances so the next request for the same
// FunctionId skips both boot and /init.
//
// All mutations are core-local by construction (I4) — a Pool value is
// owned by exactly one dispatcher Core and is never touched from another
// goroutine, so it needs no internal locking, unlike nova's
// internal/pool.functionPool (which is shared across goroutines behind a
// sync.RWMutex + sync.Cond because nova's pools are not core-pinned).
// The FIFO-of-ready-instances shape — a map keyed by function identity
// plus an ordered eviction list — is grounded on that same file's
// readyVMs/readySet pair.
package hotpool

import (
	"fmt"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
)

// Pool is the per-core C4 state: by_fid, order, and uses from spec.md §4.3.
type Pool struct {
	hotCap   int
	reuseCap int

	byFID map[domain.FunctionId]*instancemgr.Instance
	order []domain.FunctionId
	uses  map[domain.ActivationId]int
}

// New creates a Pool bounded by HOT_CAP and REUSE_CAP.
func New(hotCap, reuseCap int) *Pool {
	return &Pool{
		hotCap:   hotCap,
		reuseCap: reuseCap,
		byFID:    make(map[domain.FunctionId]*instancemgr.Instance),
		uses:     make(map[domain.ActivationId]int),
	}
}

// Has reports whether an idle instance for fid is stashed.
func (p *Pool) Has(fid domain.FunctionId) bool {
	_, ok := p.byFID[fid]
	return ok
}

// Take removes and returns the idle instance for fid. Panics if absent —
// callers must always check Has first, matching spec.md §4.3's own
// "panics if absent" contract for this operation.
func (p *Pool) Take(fid domain.FunctionId) *instancemgr.Instance {
	inst, ok := p.byFID[fid]
	if !ok {
		panic(fmt.Sprintf("hotpool: Take(%q) on absent entry", fid))
	}
	delete(p.byFID, fid)
	p.removeFromOrder(fid)
	return inst
}

// TryStash returns true and transfers ownership of inst into the pool iff:
// (a) by_fid has no entry for fid; (b) uses[iid]+1 <= REUSE_CAP; (c) the
// pool is below HOT_CAP. Otherwise it returns false and the caller must
// halt the instance.
func (p *Pool) TryStash(fid domain.FunctionId, inst *instancemgr.Instance) bool {
	if _, exists := p.byFID[fid]; exists {
		return false
	}
	if p.uses[inst.ID]+1 > p.reuseCap {
		return false
	}
	if len(p.byFID) >= p.hotCap {
		return false
	}
	p.byFID[fid] = inst
	p.order = append(p.order, fid)
	p.uses[inst.ID]++
	return true
}

// Uses reports the serve count recorded for an instance, for tests and
// metrics.
func (p *Pool) Uses(iid domain.ActivationId) int { return p.uses[iid] }

// Len reports the current occupancy, bounded by HOT_CAP (I2).
func (p *Pool) Len() int { return len(p.byFID) }

func (p *Pool) removeFromOrder(fid domain.FunctionId) {
	for i, f := range p.order {
		if f == fid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}
