// Package instancemgr defines the contract the core depends on for the one
// external collaborator spec.md calls C1: something that can boot, load,
// yield/resume, and halt a unikernel-style VM instance, and that can arm a
// checkpoint to capture a post-init Snapshot. Nothing in this package
// re-implements the unikernel boot loader or its memory-snapshotting
// primitives — that stays genuinely external, per spec.md §1's Non-goals.
//
// The interface shape is adapted from nova's backend.Backend/backend.Client
// split (create-a-VM, then talk to its agent), generalized from "JSON over
// vsock" to the boot-state/checkpoint vocabulary spec.md §6 names.
package instancemgr

import (
	"context"

	"github.com/oriys/ignis/internal/domain"
)

// BootState is where an Instance currently sits in the lifecycle described
// in spec.md §3 ("Instance lifecycle").
type BootState string

const (
	StateCreated BootState = "created"
	StateLoaded  BootState = "loaded"
	StateActive  BootState = "active" // started or resumed, executing
	StateYielded BootState = "yielded"
	StateHalted  BootState = "halted"
)

// Instance is a handle to a live VM state created by the Manager. It is
// opaque to the core beyond its identity, address, and state — everything
// else lives behind the Manager.
type Instance struct {
	ID         domain.ActivationId
	FunctionId domain.FunctionId
	CoreID     int
	Addr       string // loopback address:port of the in-VM HTTP runtime
	State      BootState
}

// Snapshot is a handle to a post-init VM image captured at a checkpoint.
// Owned by the snapshot cache; never mutated after first publish.
type Snapshot struct {
	FunctionId domain.FunctionId
	handle     any // opaque Manager-specific memory-image reference
}

// NewSnapshot wraps an opaque, Manager-specific handle. Only Manager
// implementations construct these; callers treat the result as opaque.
func NewSnapshot(fid domain.FunctionId, handle any) Snapshot {
	return Snapshot{FunctionId: fid, handle: handle}
}

// Handle returns the Manager-specific reference backing this snapshot.
func (s Snapshot) Handle() any { return s.handle }

// Manager is the narrow contract spec.md §6 requires of C1. Every method
// that can block on I/O takes a context so the dispatcher's own deadlines
// (§4.1's CONNECT_TIMEOUT_MS / INVOCATION_TIMEOUT_MS) can cancel it.
type Manager interface {
	// CloneFrom creates a new Instance derived from a Snapshot (or from the
	// base snapshot produced by Bootstrap), not yet loaded onto any core.
	CloneFrom(ctx context.Context, snap Snapshot, coreID int) (*Instance, error)

	// Load prepares an Instance to run on its assigned core. Blocks the
	// calling core for the duration of the load, per spec.md §5's
	// suspension-point list.
	Load(ctx context.Context, inst *Instance) error

	// Start runs the instance from StateLoaded. Start blocks the caller
	// until the VM halts or yields — the "cooperative blocking" the
	// dispatcher preserves per the Design Notes. Start is only ever called
	// on the instance's owning core.
	Start(ctx context.Context, inst *Instance) error

	// Yield cooperatively pauses a running instance without losing state,
	// returning it to StateYielded for later Resume.
	Yield(ctx context.Context, inst *Instance) error

	// Resume continues a yielded instance back into its HTTP runtime loop.
	// Resume is only valid strictly after the matching Yield completed.
	Resume(ctx context.Context, inst *Instance) error

	// Halt terminates the instance. Terminal; the Instance may not be used
	// again after Halt returns.
	Halt(ctx context.Context, inst *Instance) error

	// SetCheckpoint arms a breakpoint at the named symbol. When the
	// checkpoint fires during Start, the resulting Snapshot is delivered on
	// the returned channel exactly once; the Instance continues running
	// (or is left paused, per implementation) after the checkpoint fires.
	SetCheckpoint(ctx context.Context, inst *Instance, symbol string) (<-chan Snapshot, error)

	// Ping checks whether an idle instance is still responsive. This is a
	// supplemental operation (see SPEC_FULL.md "Idle health pings") not
	// named by spec.md §6, added because nothing else can detect a hot
	// instance that died while idle.
	Ping(ctx context.Context, inst *Instance) error
}
