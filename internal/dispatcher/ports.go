package dispatcher

import "sync"

// portAllocator draws session source ports from [basePort, 65535],
// confined to this core's share of the range (basePort+coreID stepped by
// numCores) and wrapping around. The live-port set belongs to this
// allocator, i.e. to one core: a draw that hits a port this core still
// holds after wraparound is retried. There is no host-wide set; ports of
// different cores stay distinct only because each core draws from its own
// residue class modulo numCores (I6).
type portAllocator struct {
	mu       sync.Mutex
	base     int
	numCores int
	coreID   int
	next     int
	live     map[int]struct{}
}

func newPortAllocator(basePort, numCores, coreID int) *portAllocator {
	return &portAllocator{
		base:     basePort,
		numCores: numCores,
		coreID:   coreID,
		next:     basePort + coreID,
		live:     make(map[int]struct{}),
	}
}

const maxPort = 65535

// Acquire returns a source port not currently held by this core.
// Re-draw-on-conflict covers this core's own ports after wraparound; it
// does not consult other cores' allocators, whose ports differ by the
// per-core bias of the step arithmetic.
func (a *portAllocator) Acquire() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		p := a.next
		a.next += a.numCores
		if a.next > maxPort {
			a.next = a.base + a.coreID
		}
		if _, taken := a.live[p]; taken {
			continue
		}
		a.live[p] = struct{}{}
		return p
	}
}

// Release frees a port once its Session has closed.
func (a *portAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, port)
}
