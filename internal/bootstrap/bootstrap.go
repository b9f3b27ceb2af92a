// Package bootstrap implements one-time host-wide startup (C7): run the
// base VM image to its initialization checkpoint, capture the resulting
// base Snapshot, and start every core's dispatcher loop.
package bootstrap

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/ignis/internal/config"
	"github.com/oriys/ignis/internal/dispatcher"
	"github.com/oriys/ignis/internal/instancemgr"
	"github.com/oriys/ignis/internal/logging"
	"github.com/oriys/ignis/internal/metrics"
	"github.com/oriys/ignis/internal/snapshotcache"
	"github.com/oriys/ignis/internal/transport"
	"github.com/oriys/ignis/internal/workqueue"
)

// baseCheckpointSymbol is the breakpoint name the base image is run to,
// matching the symbol every per-function cold-start clone is later armed
// at (see internal/dispatcher's checkpointSymbol).
const baseCheckpointSymbol = "init_checkpoint"

// Host is the assembled host-wide state a running Ignis daemon needs: the
// shared Snapshot Cache and Work Queue, and the dispatcher Cores that
// consume them.
type Host struct {
	Snapshots *snapshotcache.Cache
	Queue     *workqueue.Queue
	Cores     []*dispatcher.Core

	mgr instancemgr.Manager
	tr  transport.Transport
}

// Run executes C7: boots the base image, captures the base snapshot, and
// constructs one dispatcher Core per configured core. It does not start
// the cores' loops or the ingress pump — call Host.Serve and
// Host.PumpIngress for that, once the caller is ready to begin accepting
// Invocations.
func Run(ctx context.Context, cfg *config.Config, mgr instancemgr.Manager, tr transport.Transport) (*Host, error) {
	base, err := bootBaseImage(ctx, mgr, cfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: boot base image: %w", err)
	}
	logging.Op().Info("base snapshot captured")

	snap := snapshotcache.New(cfg.SnapCap)
	queue := workqueue.New(cfg.NumCores)

	// Per-core dispatcher construction is independent work — each Core
	// gets its own port allocator and Hot-Instance Pool — so it is built
	// concurrently rather than in a sequential loop.
	cores := make([]*dispatcher.Core, cfg.NumCores)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.NumCores; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cores[i] = dispatcher.NewCore(
				i, cfg.ConcurCap, cfg.HotCap, cfg.ReuseCap, cfg.BasePort, cfg.NumCores,
				dispatcher.Config{
					ConnectTimeoutMs:    cfg.ConnectTimeoutMs,
					InvocationTimeoutMs: cfg.InvocationTimeoutMs,
				},
				snap, queue, mgr, base, tr,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bootstrap: construct cores: %w", err)
	}

	return &Host{
		Snapshots: snap,
		Queue:     queue,
		Cores:     cores,
		mgr:       mgr,
		tr:        tr,
	}, nil
}

// bootBaseImage clones an instance from nothing (a zero-value Snapshot
// the Manager recognizes as "the embedded base image"), arms the init
// checkpoint, runs it, and returns the resulting base Snapshot once the
// checkpoint fires. The instance itself is halted immediately after —
// Ignis only needs the Snapshot it produced, not the instance.
func bootBaseImage(ctx context.Context, mgr instancemgr.Manager, cfg *config.Config) (instancemgr.Snapshot, error) {
	inst, err := mgr.CloneFrom(ctx, instancemgr.Snapshot{}, -1)
	if err != nil {
		return instancemgr.Snapshot{}, fmt.Errorf("clone base image: %w", err)
	}
	if err := mgr.Load(ctx, inst); err != nil {
		return instancemgr.Snapshot{}, fmt.Errorf("load base image: %w", err)
	}
	snapCh, err := mgr.SetCheckpoint(ctx, inst, baseCheckpointSymbol)
	if err != nil {
		return instancemgr.Snapshot{}, fmt.Errorf("arm base checkpoint: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx, inst) }()

	select {
	case baseSnap := <-snapCh:
		if err := mgr.Halt(ctx, inst); err != nil {
			logging.Op().Warn("halt base image after checkpoint failed", "error", err)
		}
		return baseSnap, nil
	case err := <-done:
		return instancemgr.Snapshot{}, fmt.Errorf("base image halted before checkpoint fired: %w", err)
	case <-ctx.Done():
		return instancemgr.Snapshot{}, ctx.Err()
	}
}

// Serve runs every core's dispatcher loop until ctx is cancelled. It
// blocks until all cores have drained their in-flight work and returned.
func (h *Host) Serve(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, core := range h.Cores {
		core := core
		g.Go(func() error {
			core.Run(gctx)
			return nil
		})
	}
	g.Wait()
}

// PumpIngress reads Invocations from the Transport and adds them to the
// Work Queue until ctx is cancelled (returning nil) or the Transport
// returns a non-context error, which ends the pump and is returned to the
// caller (the caller is expected to cancel ctx and shut the host down).
func (h *Host) PumpIngress(ctx context.Context) error {
	for {
		inv, err := h.tr.AcceptInvocation(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bootstrap: accept invocation: %w", err)
		}
		h.Queue.Add(inv)
		metrics.SetQueueDepth(h.Queue.Len())
		metrics.SetSnapshotCacheSize(h.Snapshots.Len())
	}
}

// Close closes the Host's Transport. The Manager is not closed.
func (h *Host) Close() error {
	if err := h.tr.Close(); err != nil {
		return err
	}
	return nil
}
