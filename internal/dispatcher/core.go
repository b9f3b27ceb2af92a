// Package dispatcher implements the Invoker Core Dispatcher (C6): a
// per-core engine that picks the hot/warm/cold path for each request,
// orchestrates the Session, Snapshot Cache, and Hot-Instance Pool, and
// emits InvocationResult on completion.
//
// Grounded on nova/internal/executor.Executor.Invoke's pipeline shape
// (concurrency guard via atomic counter, path selection, async result
// side effects) and nova/internal/pool/pool_acquisition.go's
// acquireGeneric admission loop, specialized from nova's generic
// warm-VM-reuse into the three named paths spec.md §4.5.1-4.5.3 fix.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/hotpool"
	"github.com/oriys/ignis/internal/instancemgr"
	"github.com/oriys/ignis/internal/logging"
	"github.com/oriys/ignis/internal/metrics"
	"github.com/oriys/ignis/internal/observability"
	"github.com/oriys/ignis/internal/snapshotcache"
	"github.com/oriys/ignis/internal/transport"
	"github.com/oriys/ignis/internal/workqueue"
)

// Config carries the session deadlines every path uses.
type Config struct {
	ConnectTimeoutMs    int
	InvocationTimeoutMs int
}

// Core is the per-core C6 state: core_id, in_flight, CONCUR_CAP, the local
// port allocator, the per-core Hot-Instance Pool, and references to the
// shared Snapshot Cache and Work Queue.
type Core struct {
	id        int
	concurCap int32
	inFlight  atomic.Int32

	cfg   Config
	ports *portAllocator
	hot   *hotpool.Pool
	snap  *snapshotcache.Cache
	queue *workqueue.Queue
	mgr   instancemgr.Manager
	base  instancemgr.Snapshot
	tr    transport.Transport

	wg sync.WaitGroup
}

// NewCore builds one dispatcher core. The Snapshot Cache and Work Queue
// are host-wide and shared across every Core; the Hot-Instance Pool and
// port allocator are created fresh per core (I4).
func NewCore(id, concurCap, hotCap, reuseCap, basePort, numCores int, cfg Config,
	snap *snapshotcache.Cache, queue *workqueue.Queue, mgr instancemgr.Manager,
	base instancemgr.Snapshot, tr transport.Transport) *Core {
	return &Core{
		id:        id,
		concurCap: int32(concurCap),
		cfg:       cfg,
		ports:     newPortAllocator(basePort, numCores, id),
		hot:       hotpool.New(hotCap, reuseCap),
		snap:      snap,
		queue:     queue,
		mgr:       mgr,
		base:      base,
		tr:        tr,
	}
}

// InFlight reports the current in-flight request count, for the
// per-core concurrency gauge in internal/metrics.
func (c *Core) InFlight() int32 { return c.inFlight.Load() }

// HotPoolLen reports the current hot-pool occupancy, for the per-core
// hot-pool gauge in internal/metrics.
func (c *Core) HotPoolLen() int { return c.hot.Len() }

// ID returns this core's identity.
func (c *Core) ID() int { return c.id }

// Run is the per-core scheduling loop (§4.5.4): it blocks on a poke from
// the Work Queue, then drains as much work as CONCUR_CAP allows. It
// returns when ctx is cancelled, after every in-flight handler finishes.
func (c *Core) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case <-c.queue.Pokes(c.id):
		case <-time.After(200 * time.Millisecond):
			// Fallback poll: a poke can be missed if it arrives between
			// this select and the previous drain finishing; a bounded
			// poll guarantees forward progress without busy-spinning.
		}
		c.drain(ctx)
	}
}

func (c *Core) drain(ctx context.Context) {
	for c.inFlight.Load() < c.concurCap {
		inv, ok := c.queue.Take()
		if !ok {
			return
		}
		metrics.SetQueueDepth(c.queue.Len())
		c.inFlight.Add(1)
		c.wg.Add(1)
		go func(inv domain.Invocation) {
			defer c.wg.Done()
			defer c.inFlight.Add(-1)
			c.handle(ctx, inv)
		}(inv)
	}
}

// handle runs the strict dispatch decision (hot > warm > cold), drives
// the chosen path to completion, and emits exactly one InvocationResult
// (I7) regardless of outcome.
func (c *Core) handle(ctx context.Context, inv domain.Invocation) {
	ctx, span := observability.StartSpan(ctx, "dispatcher.handle",
		observability.AttrFunctionID.String(string(inv.Info.FunctionId)),
		observability.AttrTransactionID.String(string(inv.Info.TransactionId)),
	)
	defer span.End()

	fid := inv.Info.FunctionId

	var (
		reply           string
		initMs, runMs   int64
		success         bool
		err             error
		inst            *instancemgr.Instance
		path            string
	)

	switch {
	case c.hot.Has(fid):
		path = "hot"
		inst = c.hot.Take(fid)
		reply, initMs, runMs, success, err = c.runHot(ctx, inst, inv)
	default:
		if snap, ok := c.snap.Get(fid); ok {
			path = "warm"
			reply, initMs, runMs, success, err, inst = c.runWarm(ctx, fid, snap, inv)
		} else {
			path = "cold"
			reply, initMs, runMs, success, err, inst = c.runCold(ctx, inv)
		}
	}

	status := domain.StatusFailure
	if success {
		status = domain.StatusSuccess
	}
	metrics.RecordDispatch(c.id, path, success, initMs+runMs)

	span.SetAttributes(observability.AttrColdStart.Bool(path == "cold"))
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}

	activationID := domain.ActivationId("")
	if inst != nil {
		activationID = inst.ID
	}

	res := domain.InvocationResult{
		Info: domain.InvocationInfo{
			TransactionId: inv.Info.TransactionId,
			FunctionId:    fid,
			ActivationId:  activationID,
			ArgsSize:      len(inv.Args),
			ExecStats: domain.ExecStats{
				InitTimeMs: initMs,
				RunTimeMs:  runMs,
				Status:     status,
			},
		},
		Reply: reply,
	}

	deliverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := c.tr.DeliverResult(deliverCtx, res); derr != nil {
		logging.Op().Error("deliver result failed", "transaction_id", inv.Info.TransactionId, "error", derr)
	}

	logging.Default().Log(&logging.RequestLog{
		RequestID:  string(inv.Info.TransactionId),
		Function:   string(fid),
		FunctionID: string(fid),
		DurationMs: initMs + runMs,
		ColdStart:  path == "cold",
		Success:    success,
		Error:      errString(err),
	})

	metrics.SetHotPoolSize(c.id, c.hot.Len())
	metrics.SetInFlight(c.id, c.inFlight.Load())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Core) haltInstance(inst *instancemgr.Instance) {
	if inst == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.mgr.Halt(ctx, inst); err != nil {
		logging.Op().Warn("halt failed", "instance", inst.ID, "error", err)
	}
}
