// Package redistransport implements the Controller-facing Transport as a
// pair of Redis lists: ingress invocations arrive via BRPOPLPUSH (so a
// consumer that crashes mid-processing leaves the item visible in a
// processing list rather than losing it), and completed results are
// LPUSHed onto an egress list for the Controller to BRPOP.
//
// Grounded on nova/internal/queue.RedisListNotifier's push-pull pattern
// (LPUSH/BRPOP over Redis lists, chosen there for "no message loss" and
// "natural load balancing" over pub/sub), generalized from a notify-only
// signal to carrying the actual payload. Uses go-redis/redis/v8, matching
// the version already pinned in go.mod; nova's own queue package imports
// the newer v9 in the retrieved tree, a drift noted in DESIGN.md.
package redistransport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/ignis/internal/domain"
)

// Transport is a Transport backed by Redis lists, modeling the external
// message-bus ingress/egress named in spec.md §1 as a pluggable adapter
// rather than a reimplementation of the bus itself.
type Transport struct {
	client         *redis.Client
	ingressKey     string
	processingKey  string
	egressKey      string
	popTimeout     time.Duration
}

// Config configures the Redis keys and connection.
type Config struct {
	Addr           string
	IngressListKey string
	EgressListKey  string
	PopTimeout     time.Duration
}

func New(cfg Config) *Transport {
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = time.Second
	}
	return &Transport{
		client:        redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		ingressKey:    cfg.IngressListKey,
		processingKey: cfg.IngressListKey + ":processing",
		egressKey:     cfg.EgressListKey,
		popTimeout:    cfg.PopTimeout,
	}
}

// AcceptInvocation blocks on BRPOPLPUSH until an Invocation is available
// or ctx is cancelled. The item is moved to the processing list atomically
// so a crash between pop and enqueue into the Work Queue does not drop it
// silently; re-delivery / ack semantics beyond that are left to the
// operator, per spec.md's Non-goal of exactly-once delivery.
func (t *Transport) AcceptInvocation(ctx context.Context) (domain.Invocation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Invocation{}, err
		}
		val, err := t.client.BRPopLPush(ctx, t.ingressKey, t.processingKey, t.popTimeout).Result()
		if err == redis.Nil {
			continue // timeout, no data — loop and recheck ctx
		}
		if err != nil {
			return domain.Invocation{}, fmt.Errorf("redistransport: brpoplpush: %w", err)
		}
		var inv domain.Invocation
		if err := json.Unmarshal([]byte(val), &inv); err != nil {
			return domain.Invocation{}, fmt.Errorf("redistransport: unmarshal invocation: %w", err)
		}
		return inv, nil
	}
}

// DeliverResult LPUSHes the JSON-encoded result onto the egress list.
func (t *Transport) DeliverResult(ctx context.Context, res domain.InvocationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redistransport: marshal result: %w", err)
	}
	return t.client.LPush(ctx, t.egressKey, data).Err()
}

// Ack removes a successfully-processed invocation from the processing
// list, acknowledging it. Not part of the Transport interface — it is an
// operator-facing extension for at-least-once delivery bookkeeping.
func (t *Transport) Ack(ctx context.Context, raw string) error {
	return t.client.LRem(ctx, t.processingKey, 1, raw).Err()
}

func (t *Transport) Close() error {
	return t.client.Close()
}
