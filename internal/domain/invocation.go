// Package domain holds the core data model shared by every invoker
// component: the identifiers, the wire records crossing the Work Queue
// and the Transport, and the status vocabulary they use.
package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// FunctionId is an opaque stable identifier for a specific code revision.
// Two activations carrying the same FunctionId are guaranteed to execute
// identical code.
type FunctionId string

// TransactionId uniquely identifies one activation, chosen by the external
// controller and used to correlate its eventual InvocationResult.
type TransactionId string

// ActivationId identifies the instance that served an activation, for
// tracing and log correlation only — it plays no role in dispatch.
type ActivationId string

// Status is the terminal outcome recorded in ExecStats.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ExecStats carries the measured latencies and outcome of one activation.
type ExecStats struct {
	InitTimeMs int64  `json:"init_time_ms"`
	RunTimeMs  int64  `json:"run_time_ms"`
	Status     Status `json:"status"`
}

// InvocationInfo is the identity and accounting record attached to both
// an Invocation and its InvocationResult.
type InvocationInfo struct {
	TransactionId TransactionId `json:"transaction_id"`
	FunctionId    FunctionId    `json:"function_id"`
	ActivationId  ActivationId  `json:"activation_id"`
	ArgsSize      int           `json:"args_size"`
	ExecStats     ExecStats     `json:"exec_stats"`
}

// Invocation is a request record sitting in the Work Queue. Immutable once
// enqueued. Code is the JS source for the function; it is empty on every
// activation after the first for a given FunctionId, since the dispatcher
// only needs it to perform /init on a cold start.
type Invocation struct {
	Info InvocationInfo `json:"info"`
	Args string         `json:"args"`
	Code string         `json:"code,omitempty"`
}

// InvocationResult is produced at most once per Invocation (I7) and handed
// to the external completion egress via Transport.
type InvocationResult struct {
	Info  InvocationInfo `json:"info"`
	Reply string         `json:"reply"`
}

// NewTransactionID mints a fresh, caller-facing transaction identifier.
// The core itself never calls this — TransactionId is chosen by the
// external controller — but tests need a way to generate one.
func NewTransactionID() TransactionId {
	return TransactionId(uuid.New().String())
}

// NewActivationID mints an identifier for a freshly created instance.
func NewActivationID() ActivationId {
	return ActivationId(uuid.New().String())
}

// MarshalBinary/UnmarshalBinary let InvocationResult be stored directly in
// a byte-oriented transport (e.g. a Redis value) without a bespoke codec.
func (r *InvocationResult) MarshalBinary() ([]byte, error) { return json.Marshal(r) }
func (r *InvocationResult) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

func (i *Invocation) MarshalBinary() ([]byte, error) { return json.Marshal(i) }
func (i *Invocation) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, i)
}
