// Package snapshotcache implements the Snapshot Cache (C3): a host-wide,
// concurrent-safe map from FunctionId to a post-init Snapshot, bounded in
// size with single-writer-wins semantics on first populate (I1).
//
// Grounded on nova/internal/pool.Pool's snapshotCache/snapshotLocks
// sync.Map pair — the per-function mutex map that already implements
// "single writer wins" for suspend-snapshots — generalized from a pool
// side-table into its own bounded, capped component. The single-flight
// dedup itself is implemented with golang.org/x/sync/singleflight rather
// than a hand-rolled mutex map, since the package already depends on it
// elsewhere in the corpus (nova/internal/pool.Pool.group) and it is the
// textbook fit for I1's "at most one snapshot per FunctionId" rule.
package snapshotcache

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
)

// Cache is the C3 Snapshot Cache.
type Cache struct {
	cap int

	mu      sync.RWMutex
	entries map[domain.FunctionId]instancemgr.Snapshot

	group singleflight.Group
}

// New creates a Cache bounded by SNAP_CAP (I2).
func New(snapCap int) *Cache {
	return &Cache{
		cap:     snapCap,
		entries: make(map[domain.FunctionId]instancemgr.Snapshot),
	}
}

// Get is an O(1), read-mostly lookup.
func (c *Cache) Get(fid domain.FunctionId) (instancemgr.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.entries[fid]
	return snap, ok
}

// TryPut returns true iff insertion happened: false if a snapshot for fid
// already exists (I1), or if the cache is at SNAP_CAP (I2). On false, the
// caller must release snap — the cache never takes ownership of a
// rejected snapshot.
func (c *Cache) TryPut(fid domain.FunctionId, snap instancemgr.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fid]; exists {
		return false
	}
	if len(c.entries) >= c.cap {
		return false
	}
	c.entries[fid] = snap
	return true
}

// Len reports the current cache occupancy, for the size gauge in
// internal/metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ColdStart runs fn — which clones an instance from the base snapshot,
// drives its /init, and waits for the checkpoint to fire — only once
// across concurrent callers racing the same, never-before-cached
// FunctionId. Callers that arrive while a cold start for fid is already
// in flight wait for that candidate Snapshot instead of booting and
// initializing a second instance from the base image; they then continue
// their own request on the warm path (clone from the resulting snapshot,
// send only /run), rather than duplicating the /init work. This is an
// optimization layered on top of TryPut, which already provides I1's
// core guarantee via ordinary check-then-insert under the cache's lock —
// ColdStart only avoids redundant boot+/init work, it does not itself
// decide cache membership.
//
// This does not call TryPut — the caller (the dispatcher) still decides
// whether the resulting snapshot is offered to the cache, per spec.md
// §4.5.3's "when the checkpoint fires, the produced snapshot is offered
// to C3 via try_put."
func (c *Cache) ColdStart(fid domain.FunctionId, fn func() (instancemgr.Snapshot, error)) (instancemgr.Snapshot, error, bool) {
	v, err, shared := c.group.Do(string(fid), func() (any, error) {
		return fn()
	})
	if err != nil {
		return instancemgr.Snapshot{}, err, shared
	}
	return v.(instancemgr.Snapshot), nil, shared
}
