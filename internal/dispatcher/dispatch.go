package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
	"github.com/oriys/ignis/internal/logging"
	"github.com/oriys/ignis/internal/metrics"
	"github.com/oriys/ignis/internal/session"
)

// checkpointSymbol is the breakpoint name armed on every cold-started
// instance. The real unikernel boot loader chooses the actual address;
// the core only needs a stable name to pass to instancemgr.Manager.
const checkpointSymbol = "init_checkpoint"

func (c *Core) sessionConfig(addr string, port int) session.Config {
	return session.Config{
		Addr:                addr,
		SrcPort:             port,
		ConnectTimeoutMs:    c.cfg.ConnectTimeoutMs,
		InvocationTimeoutMs: c.cfg.InvocationTimeoutMs,
	}
}

// runHot drives §4.5.1: resume a previously yielded instance and send
// only /run. On success the instance is offered back to the hot pool;
// on any failure it is halted unconditionally.
func (c *Core) runHot(ctx context.Context, inst *instancemgr.Instance, inv domain.Invocation) (reply string, initMs, runMs int64, success bool, err error) {
	fid := inv.Info.FunctionId
	port := c.ports.Acquire()
	defer c.ports.Release(port)

	if rerr := c.mgr.Resume(ctx, inst); rerr != nil {
		c.haltInstance(inst)
		return "", 0, 0, false, fmt.Errorf("hot: resume: %w", rerr)
	}

	sess := session.New(c.sessionConfig(inst.Addr, port))
	if cerr := sess.Connect(ctx); cerr != nil {
		c.haltInstance(inst)
		return "", 0, 0, false, cerr
	}
	if serr := sess.Send(ctx, session.PathRun, inv.Args, false); serr != nil {
		sess.Close()
		c.haltInstance(inst)
		return sess.Reply(), 0, sess.RunTimeMs(), false, serr
	}
	sess.Finish(true)
	sess.Close()

	c.stashOrHalt(ctx, fid, inst)
	return sess.Reply(), 0, sess.RunTimeMs(), true, nil
}

// runWarm drives §4.5.2: clone from a function-specific post-init
// snapshot, load it, start the clone, and send only /run — the clone is
// already past /init, so the VM is initialized without the session ever
// sending it (see spec.md §8's boundary note on this exact point).
func (c *Core) runWarm(ctx context.Context, fid domain.FunctionId, snap instancemgr.Snapshot, inv domain.Invocation) (reply string, initMs, runMs int64, success bool, err error, inst *instancemgr.Instance) {
	inst, err = c.mgr.CloneFrom(ctx, snap, c.id)
	if err != nil {
		return "", 0, 0, false, fmt.Errorf("warm: clone: %w", err), nil
	}
	if err = c.mgr.Load(ctx, inst); err != nil {
		c.haltInstance(inst)
		return "", 0, 0, false, fmt.Errorf("warm: load: %w", err), inst
	}

	go c.startInstance(inst)

	port := c.ports.Acquire()
	defer c.ports.Release(port)

	sess := session.New(c.sessionConfig(inst.Addr, port))
	if cerr := sess.Connect(ctx); cerr != nil {
		c.haltInstance(inst)
		return "", 0, 0, false, cerr, inst
	}
	if serr := sess.Send(ctx, session.PathRun, inv.Args, false); serr != nil {
		sess.Close()
		c.haltInstance(inst)
		return sess.Reply(), 0, sess.RunTimeMs(), false, serr, inst
	}
	sess.Finish(true)
	sess.Close()

	c.stashOrHalt(ctx, fid, inst)
	return sess.Reply(), 0, sess.RunTimeMs(), true, nil, inst
}

// coldBuild records the work done by whichever caller's closure actually
// ran inside snapshotcache.Cache.ColdStart — singleflight invokes only the
// first arriving caller's function, so a non-nil coldBuild after ColdStart
// returns is how this goroutine tells "I booted it" apart from "someone
// else booted it and I'm sharing the result" (ColdStart's own shared
// return value conflates both, per golang.org/x/sync/singleflight's
// semantics: the original caller also observes shared=true once a second
// caller joins).
type coldBuild struct {
	inst *instancemgr.Instance
	sess *session.Session
	port int
}

// runCold drives §4.5.3: clone from the base snapshot, arm the init
// checkpoint, run /init, then /run. Concurrent cold starts for the same
// never-before-cached FunctionId are coalesced by snapshotcache.ColdStart
// (I1): only the first caller actually boots and initializes an instance;
// every other concurrent caller waits for the resulting Snapshot and then
// continues on the warm path instead of booting a second instance from
// the base image.
func (c *Core) runCold(ctx context.Context, inv domain.Invocation) (reply string, initMs, runMs int64, success bool, err error, inst *instancemgr.Instance) {
	fid := inv.Info.FunctionId

	var built *coldBuild
	snap, berr, _ := c.snap.ColdStart(fid, func() (instancemgr.Snapshot, error) {
		leaderInst, cerr := c.mgr.CloneFrom(ctx, c.base, c.id)
		if cerr != nil {
			return instancemgr.Snapshot{}, fmt.Errorf("cold: clone base: %w", cerr)
		}
		// The base snapshot carries no FunctionId (it boots the bare
		// runtime, before any /init); tag the clone with the one this
		// activation is actually for so the checkpoint it arms below
		// produces a Snapshot identifiable by fid.
		leaderInst.FunctionId = fid
		if cerr := c.mgr.Load(ctx, leaderInst); cerr != nil {
			c.haltInstance(leaderInst)
			return instancemgr.Snapshot{}, fmt.Errorf("cold: load: %w", cerr)
		}
		snapCh, cerr := c.mgr.SetCheckpoint(ctx, leaderInst, checkpointSymbol)
		if cerr != nil {
			c.haltInstance(leaderInst)
			return instancemgr.Snapshot{}, fmt.Errorf("cold: set checkpoint: %w", cerr)
		}
		go c.startInstance(leaderInst)

		port := c.ports.Acquire()
		sess := session.New(c.sessionConfig(leaderInst.Addr, port))
		if cerr := sess.Connect(ctx); cerr != nil {
			c.ports.Release(port)
			c.haltInstance(leaderInst)
			return instancemgr.Snapshot{}, cerr
		}
		if cerr := sess.Send(ctx, session.PathInit, inv.Code, true); cerr != nil {
			c.ports.Release(port)
			sess.Close()
			c.haltInstance(leaderInst)
			return instancemgr.Snapshot{}, cerr
		}

		select {
		case leaderSnap := <-snapCh:
			built = &coldBuild{inst: leaderInst, sess: sess, port: port}
			return leaderSnap, nil
		case <-ctx.Done():
			c.ports.Release(port)
			sess.Close()
			c.haltInstance(leaderInst)
			return instancemgr.Snapshot{}, ctx.Err()
		}
	})

	if berr != nil {
		return "", 0, 0, false, berr, nil
	}

	// Offer the snapshot to the cache (I1). A collision here just means
	// another core's cold start for the same FunctionId published first;
	// the loser snapshot is dropped per spec.md §4.5's failure policy —
	// it never fails this invocation.
	c.snap.TryPut(fid, snap)
	metrics.SetSnapshotCacheSize(c.snap.Len())

	if built == nil {
		// A concurrent cold start for this FunctionId already boots
		// elsewhere; continue on the warm path with the snapshot it
		// produces instead of booting a second base instance.
		return c.runWarm(ctx, fid, snap, inv)
	}

	sess := built.sess
	inst = built.inst
	defer c.ports.Release(built.port)

	if serr := sess.Send(ctx, session.PathRun, inv.Args, false); serr != nil {
		sess.Close()
		c.haltInstance(inst)
		return sess.Reply(), sess.InitTimeMs(), sess.RunTimeMs(), false, serr, inst
	}
	sess.Finish(true)
	sess.Close()

	c.stashOrHalt(ctx, fid, inst)
	return sess.Reply(), sess.InitTimeMs(), sess.RunTimeMs(), true, nil, inst
}

// stashOrHalt yields inst back to StateYielded before offering it to the
// hot pool, per spec.md §3 ("on session close, either halted (default) or
// yielded back into C4 if reuse is permitted") and §5's ordering guarantee
// that a resume is only ever issued after the matching yield completed
// (runHot's Resume call relies on this). A failed Yield or a refused
// TryStash both fall back to halting the instance.
func (c *Core) stashOrHalt(ctx context.Context, fid domain.FunctionId, inst *instancemgr.Instance) {
	if err := c.mgr.Yield(ctx, inst); err != nil {
		logging.Op().Warn("yield failed", "instance", inst.ID, "error", err)
		c.haltInstance(inst)
		return
	}
	if !c.hot.TryStash(fid, inst) {
		c.haltInstance(inst)
	}
}

// startInstance runs the instance's cooperative-blocking Start call on a
// dedicated goroutine, per the Design Notes ("Cooperative blocking"): the
// dispatcher never interleaves two VM executions on one core, but it also
// must not block handle's own goroutine on a call that only returns once
// the VM yields or halts.
func (c *Core) startInstance(inst *instancemgr.Instance) {
	ctx, cancel := context.WithTimeout(context.Background(), c.startTimeout())
	defer cancel()
	if err := c.mgr.Start(ctx, inst); err != nil {
		logging.Op().Debug("instance start returned", "instance", inst.ID, "error", err)
	}
}

func (c *Core) startTimeout() time.Duration {
	d := time.Duration(c.cfg.InvocationTimeoutMs) * time.Millisecond
	if d <= 0 {
		d = 60 * time.Second
	}
	return d + 5*time.Second
}
