package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/oriys/ignis/internal/config"
	"github.com/oriys/ignis/internal/domain"
	"github.com/oriys/ignis/internal/instancemgr"
	"github.com/oriys/ignis/internal/instancemgr/simulated"
)

// failingManager implements instancemgr.Manager and fails every CloneFrom,
// used to exercise Run's base-image-boot error path.
type failingManager struct{}

func (failingManager) CloneFrom(ctx context.Context, snap instancemgr.Snapshot, coreID int) (*instancemgr.Instance, error) {
	return nil, context.DeadlineExceeded
}
func (failingManager) Load(ctx context.Context, inst *instancemgr.Instance) error    { return nil }
func (failingManager) Start(ctx context.Context, inst *instancemgr.Instance) error   { return nil }
func (failingManager) Yield(ctx context.Context, inst *instancemgr.Instance) error   { return nil }
func (failingManager) Resume(ctx context.Context, inst *instancemgr.Instance) error  { return nil }
func (failingManager) Halt(ctx context.Context, inst *instancemgr.Instance) error    { return nil }
func (failingManager) Ping(ctx context.Context, inst *instancemgr.Instance) error    { return nil }
func (failingManager) SetCheckpoint(ctx context.Context, inst *instancemgr.Instance, symbol string) (<-chan instancemgr.Snapshot, error) {
	return nil, nil
}

type fakeTransport struct {
	in      chan domain.Invocation
	results chan domain.InvocationResult
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:      make(chan domain.Invocation, 8),
		results: make(chan domain.InvocationResult, 8),
	}
}

func (f *fakeTransport) AcceptInvocation(ctx context.Context) (domain.Invocation, error) {
	select {
	case inv := <-f.in:
		return inv, nil
	case <-ctx.Done():
		return domain.Invocation{}, ctx.Err()
	}
}

func (f *fakeTransport) DeliverResult(ctx context.Context, res domain.InvocationResult) error {
	f.results <- res
	return nil
}

func (f *fakeTransport) Close() error { return nil }

// TestRunAndServe exercises C7 end to end against the simulated Manager:
// boot the base image, construct one core, push one Invocation through
// PumpIngress, and observe the InvocationResult it produces.
func TestRunAndServe(t *testing.T) {
	mgr := simulated.New()
	fid := domain.FunctionId("fn-bootstrap")
	mgr.SetBehavior(fid, simulated.Behavior{
		Run: func(args json.RawMessage) (string, int) { return `{"ok":true}`, http.StatusOK },
	})

	tr := newFakeTransport()

	cfg := config.Default()
	cfg.NumCores = 1
	cfg.ConcurCap = 2
	cfg.ConnectTimeoutMs = 2000
	cfg.InvocationTimeoutMs = 2000
	cfg.BasePort = 42000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := Run(ctx, cfg, mgr, tr)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(host.Cores) != 1 {
		t.Fatalf("expected 1 core, got %d", len(host.Cores))
	}

	go host.Serve(ctx)
	go host.PumpIngress(ctx)

	tr.in <- domain.Invocation{
		Info: domain.InvocationInfo{TransactionId: domain.NewTransactionID(), FunctionId: fid},
		Args: `{}`,
		Code: "function main() {}",
	}

	select {
	case res := <-tr.results:
		if res.Info.ExecStats.Status != domain.StatusSuccess {
			t.Fatalf("expected success, got %+v", res.Info.ExecStats)
		}
		if res.Reply != `{"ok":true}` {
			t.Fatalf("unexpected reply: %q", res.Reply)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for InvocationResult")
	}
}

func TestRunRejectsBaseImageFailure(t *testing.T) {
	mgr := &failingManager{}
	tr := newFakeTransport()
	cfg := config.Default()
	cfg.NumCores = 1

	_, err := Run(context.Background(), cfg, mgr, tr)
	if err == nil {
		t.Fatal("expected Run to fail when the base image cannot be cloned")
	}
}
