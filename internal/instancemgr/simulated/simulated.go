// Package simulated provides an in-process stand-in for the unikernel
// runtime, used by session/dispatcher tests. It serves the exact /init and
// /run wire contract spec.md §6 fixes, without booting anything: each
// Instance gets its own loopback HTTP listener whose behavior is supplied
// by the test. The real boot loader and memory-snapshotting primitives
// stay out of scope, per spec.md §1.
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
)

// Behavior describes how a simulated instance answers /run for one
// FunctionId. The zero value echoes back {"x": args.k}-style behavior is
// NOT assumed — tests must supply Run explicitly.
type Behavior struct {
	// Run computes the /run reply body from the request's raw args JSON.
	// Returning a non-zero Status makes the server reply with that status
	// line instead of 200 OK (used to simulate protocol errors, S5).
	Run func(args json.RawMessage) (reply string, status int)

	// Hang makes /run never respond, simulating an infinite loop (S4);
	// the caller's Session deadline is expected to fire instead.
	Hang bool

	// InitDelay optionally delays the /init response.
	InitDelay time.Duration
}

type instState struct {
	inst      *instancemgr.Instance
	listener  net.Listener
	server    *http.Server
	behavior  Behavior
	halted    bool
	snapshots chan instancemgr.Snapshot
}

// Manager is a Manager implementation backed by in-process HTTP listeners.
type Manager struct {
	mu         sync.Mutex
	behaviors  map[domain.FunctionId]Behavior
	instances  map[domain.ActivationId]*instState
	cloneCount int
}

func New() *Manager {
	return &Manager{
		behaviors: make(map[domain.FunctionId]Behavior),
		instances: make(map[domain.ActivationId]*instState),
	}
}

// SetBehavior registers how a FunctionId's /run handler responds. Must be
// called before any CloneFrom for that FunctionId.
func (m *Manager) SetBehavior(fid domain.FunctionId, b Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[fid] = b
}

func (m *Manager) CloneFrom(ctx context.Context, snap instancemgr.Snapshot, coreID int) (*instancemgr.Instance, error) {
	m.mu.Lock()
	fid := snap.FunctionId
	if fid == "" {
		if bfid, ok := snap.Handle().(domain.FunctionId); ok {
			fid = bfid
		}
	}
	behavior := m.behaviors[fid]
	m.cloneCount++
	m.mu.Unlock()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("simulated: listen: %w", err)
	}

	inst := &instancemgr.Instance{
		ID:         domain.NewActivationID(),
		FunctionId: fid,
		CoreID:     coreID,
		Addr:       ln.Addr().String(),
		State:      instancemgr.StateCreated,
	}
	st := &instState{inst: inst, listener: ln, behavior: behavior}

	m.mu.Lock()
	m.instances[inst.ID] = st
	m.mu.Unlock()

	return inst, nil
}

func (m *Manager) Load(ctx context.Context, inst *instancemgr.Instance) error {
	st := m.get(inst.ID)
	if st == nil {
		return fmt.Errorf("simulated: unknown instance %s", inst.ID)
	}
	inst.State = instancemgr.StateLoaded
	return nil
}

func (m *Manager) Start(ctx context.Context, inst *instancemgr.Instance) error {
	st := m.get(inst.ID)
	if st == nil {
		return fmt.Errorf("simulated: unknown instance %s", inst.ID)
	}
	// A cold-start clone of the base snapshot is tagged with its
	// FunctionId only after CloneFrom, so resolve the behavior again here.
	m.mu.Lock()
	if b, ok := m.behaviors[inst.FunctionId]; ok {
		st.behavior = b
	}
	m.mu.Unlock()
	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		if st.behavior.InitDelay > 0 {
			time.Sleep(st.behavior.InitDelay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"OK":true}`)
	})
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		if st.behavior.Hang {
			<-r.Context().Done()
			return
		}
		body, _ := io.ReadAll(r.Body)
		var wrapper struct {
			Value json.RawMessage `json:"value"`
		}
		json.Unmarshal(body, &wrapper)
		reply, status := "", http.StatusOK
		if st.behavior.Run != nil {
			reply, status = st.behavior.Run(wrapper.Value)
		}
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	})
	st.server = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// net/http writes the request's protocol version into the status
		// line; the runtime always answers "HTTP/1.1", so mark the
		// session's HTTP/1.0 request 1.1 before the handlers reply.
		r.ProtoMajor, r.ProtoMinor = 1, 1
		mux.ServeHTTP(w, r)
	})}
	inst.State = instancemgr.StateActive
	// Block like a real VM run: until Halt stops the server, or ctx ends.
	served := make(chan error, 1)
	go func() { served <- st.server.Serve(st.listener) }()
	select {
	case <-served:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Yield(ctx context.Context, inst *instancemgr.Instance) error {
	inst.State = instancemgr.StateYielded
	return nil
}

func (m *Manager) Resume(ctx context.Context, inst *instancemgr.Instance) error {
	inst.State = instancemgr.StateActive
	return nil
}

func (m *Manager) Halt(ctx context.Context, inst *instancemgr.Instance) error {
	st := m.get(inst.ID)
	if st == nil {
		return nil
	}
	m.mu.Lock()
	if st.halted {
		m.mu.Unlock()
		return nil
	}
	st.halted = true
	m.mu.Unlock()
	inst.State = instancemgr.StateHalted
	if st.server != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return st.server.Shutdown(shutCtx)
	}
	return st.listener.Close()
}

func (m *Manager) SetCheckpoint(ctx context.Context, inst *instancemgr.Instance, symbol string) (<-chan instancemgr.Snapshot, error) {
	st := m.get(inst.ID)
	if st == nil {
		return nil, fmt.Errorf("simulated: unknown instance %s", inst.ID)
	}
	ch := make(chan instancemgr.Snapshot, 1)
	// The simulated runtime fires the checkpoint as soon as it is armed,
	// before Start or any /init; real unikernels fire it at the breakpoint
	// mid-boot.
	ch <- instancemgr.NewSnapshot(inst.FunctionId, inst.ID)
	return ch, nil
}

func (m *Manager) Ping(ctx context.Context, inst *instancemgr.Instance) error {
	st := m.get(inst.ID)
	if st == nil || st.halted {
		return fmt.Errorf("simulated: instance %s not reachable", inst.ID)
	}
	conn, err := net.DialTimeout("tcp", inst.Addr, 200*time.Millisecond)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func (m *Manager) get(id domain.ActivationId) *instState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}
