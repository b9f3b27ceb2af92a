package domain

import "testing"

func TestNewTransactionIDUnique(t *testing.T) {
	a := NewTransactionID()
	b := NewTransactionID()
	if a == b {
		t.Fatalf("expected distinct transaction ids, got %q twice", a)
	}
}

func TestInvocationResultRoundTrip(t *testing.T) {
	res := &InvocationResult{
		Info: InvocationInfo{
			TransactionId: "t1",
			FunctionId:    "f1",
			ActivationId:  "a1",
			ArgsSize:      3,
			ExecStats:     ExecStats{InitTimeMs: 10, RunTimeMs: 20, Status: StatusSuccess},
		},
		Reply: `{"x":"v"}`,
	}
	data, err := res.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got InvocationResult
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Info.FunctionId != res.Info.FunctionId || got.Reply != res.Reply {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}
