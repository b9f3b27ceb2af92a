package session_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/oriys/ignis/internal/session"
)

// startFakeRuntime starts a minimal HTTP/1.0-compatible listener standing
// in for the unikernel's /init + /run runtime, returning its address.
func startFakeRuntime(t *testing.T, runReply string, runStatus int) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"OK":true}`))
	})
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if runStatus != 0 && runStatus != http.StatusOK {
			w.WriteHeader(runStatus)
		}
		w.Write([]byte(runReply))
	})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// net/http writes the request's protocol version into the status
		// line; the unikernel runtime always answers "HTTP/1.1", so mark
		// the request 1.1 before the handlers reply.
		r.ProtoMajor, r.ProtoMinor = 1, 1
		mux.ServeHTTP(w, r)
	})}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

func TestSessionColdSequence(t *testing.T) {
	addr := startFakeRuntime(t, `{"x":"v"}`, http.StatusOK)
	s := session.New(session.Config{
		Addr:                addr,
		ConnectTimeoutMs:    1000,
		InvocationTimeoutMs: 2000,
	})
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.Connected() {
		t.Fatal("expected connected signal fired")
	}

	if err := s.Send(ctx, session.PathInit, `function main(a){return {x:a.k};}`, true); err != nil {
		t.Fatalf("send /init: %v", err)
	}
	if !s.Initialized() {
		t.Fatal("expected initialized signal fired")
	}

	argsJSON, _ := json.Marshal(map[string]string{"k": "v"})
	if err := s.Send(ctx, session.PathRun, string(argsJSON), false); err != nil {
		t.Fatalf("send /run: %v", err)
	}
	if got := s.Reply(); got != `{"x":"v"}` {
		t.Fatalf("reply = %q, want {\"x\":\"v\"}", got)
	}

	s.Finish(true)
	if !s.FinishedOK() {
		t.Fatal("expected finished(true)")
	}
}

func TestSessionWarmSkipsInit(t *testing.T) {
	addr := startFakeRuntime(t, `{"x":"w"}`, http.StatusOK)
	s := session.New(session.Config{Addr: addr, ConnectTimeoutMs: 1000, InvocationTimeoutMs: 2000})
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Send(ctx, session.PathRun, `{"k":"w"}`, false); err != nil {
		t.Fatalf("send /run: %v", err)
	}
	if s.Initialized() {
		t.Fatal("warm session must never observe an initialized signal")
	}
	if got := s.Reply(); got != `{"x":"w"}` {
		t.Fatalf("reply = %q", got)
	}
}

func TestSessionProtocolErrorAborts(t *testing.T) {
	addr := startFakeRuntime(t, `{"err":"boom"}`, http.StatusInternalServerError)
	s := session.New(session.Config{Addr: addr, ConnectTimeoutMs: 1000, InvocationTimeoutMs: 2000})
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := s.Send(ctx, session.PathRun, `{}`, false)
	if err == nil {
		t.Fatal("expected protocol error")
	}
	var sessErr *session.Error
	if !asSessionError(err, &sessErr) || sessErr.Kind != session.KindProtocol {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
	if !s.Aborted() {
		t.Fatal("expected aborted signal fired")
	}
}

func TestSessionTimeoutAborts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	// The listener accepts the connection and reads the request but never
	// answers /run; the session stays blocked until the deadline fires.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf) // read the request, never respond
		time.Sleep(time.Second)
	}()

	s := session.New(session.Config{Addr: ln.Addr().String(), ConnectTimeoutMs: 1000, InvocationTimeoutMs: 100})
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err = s.Send(ctx, session.PathRun, `{}`, false)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !s.Aborted() {
		t.Fatal("expected aborted signal on timeout")
	}
}

func TestSessionFinishIdempotent(t *testing.T) {
	addr := startFakeRuntime(t, `{"x":1}`, http.StatusOK)
	s := session.New(session.Config{Addr: addr, ConnectTimeoutMs: 1000, InvocationTimeoutMs: 2000})
	s.Finish(true)
	s.Finish(false) // must not change the already-published status
	if !s.FinishedOK() {
		t.Fatal("Finish must be idempotent: first call wins")
	}
}

func asSessionError(err error, target **session.Error) bool {
	se, ok := err.(*session.Error)
	if !ok {
		return false
	}
	*target = se
	return true
}
