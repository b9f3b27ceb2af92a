// Package transport hides the two directions of communication with the
// external Controller — accepting an Invocation, delivering an
// InvocationResult — behind one narrow interface, per SPEC_FULL.md and
// the Design Notes' "Dynamic dispatch across hosted/native builds": the
// source used preprocessor switches to split controller-side ingress from
// invoker-side egress; the rewrite hides both behind Transport so the
// core depends on neither concrete wire format.
package transport

import (
	"context"

	"github.com/oriys/ignis/internal/domain"
)

// Transport is the only interface the core depends on for talking to the
// external message-bus / Controller collaborator named in spec.md §1.
type Transport interface {
	// AcceptInvocation blocks until the next Invocation is available from
	// ingress, or ctx is cancelled.
	AcceptInvocation(ctx context.Context) (domain.Invocation, error)

	// DeliverResult hands a completed InvocationResult to egress. Called
	// exactly once per TransactionId (I7).
	DeliverResult(ctx context.Context, res domain.InvocationResult) error

	// Close releases any connections the Transport holds.
	Close() error
}
