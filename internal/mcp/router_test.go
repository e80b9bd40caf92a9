package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestRouter(t *testing.T, timeout time.Duration) (*Router, *Registry) {
	t.Helper()
	reg := NewRegistry(quietLogger(), false)
	return NewRouter(reg, nil, quietLogger(), timeout), reg
}

func TestDispatchSuccess(t *testing.T) {
	router, reg := newTestRouter(t, time.Second)
	if err := reg.Register("user_query", echoHandler("answer"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "user_query", Payload: json.RawMessage(`{"q":"hi"}`)})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if string(res.Payload) != `"answer"` {
		t.Fatalf("unexpected payload %s", res.Payload)
	}
	if res.CorrelationID == "" {
		t.Fatalf("expected generated correlation id")
	}
}

func TestDispatchUnknownCapability(t *testing.T) {
	router, _ := newTestRouter(t, time.Second)
	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "missing", Payload: json.RawMessage(`{}`)})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error == nil || res.Error.Kind != FailureUnknownCapability {
		t.Fatalf("expected UnknownCapability, got %+v", res.Error)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	router, reg := newTestRouter(t, time.Second)
	if err := reg.Register("broken", HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "broken", Payload: json.RawMessage(`{}`)})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error.Kind != FailureHandlerError {
		t.Fatalf("expected HandlerError, got %s", res.Error.Kind)
	}
	if res.Error.Message != "boom" {
		t.Fatalf("expected original message carried through, got %q", res.Error.Message)
	}
}

func TestDispatchPanicIsContained(t *testing.T) {
	router, reg := newTestRouter(t, time.Second)
	if err := reg.Register("panicky", HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		panic("unexpected state")
	}), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "panicky", Payload: json.RawMessage(`{}`)})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error.Kind != FailureHandlerError {
		t.Fatalf("expected HandlerError, got %s", res.Error.Kind)
	}
}

func TestDispatchTimeout(t *testing.T) {
	router, reg := newTestRouter(t, 50*time.Millisecond)
	if err := reg.Register("slow", HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "slow", Payload: json.RawMessage(`{}`)})
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Error.Kind != FailureTimeout {
		t.Fatalf("expected Timeout, got %s", res.Error.Kind)
	}
}

// A capability that always times out must not delay concurrent dispatches of
// a different capability.
func TestDispatchIsolation(t *testing.T) {
	router, reg := newTestRouter(t, 200*time.Millisecond)
	if err := reg.Register("stuck", HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("fast", echoHandler("ok"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	slowDone := make(chan ResultEnvelope, 1)
	go func() {
		slowDone <- router.Dispatch(context.Background(), RequestEnvelope{Type: "stuck", Payload: json.RawMessage(`{}`)})
	}()

	start := time.Now()
	res := router.Dispatch(context.Background(), RequestEnvelope{Type: "fast", Payload: json.RawMessage(`{}`)})
	if !res.Success {
		t.Fatalf("fast dispatch failed: %+v", res.Error)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("fast dispatch delayed by stuck capability: %v", elapsed)
	}

	slow := <-slowDone
	if slow.Success || slow.Error.Kind != FailureTimeout {
		t.Fatalf("expected stuck capability to time out, got %+v", slow)
	}
}

func TestStatusSnapshot(t *testing.T) {
	router, reg := newTestRouter(t, time.Second)
	reg.Require("bill_analysis")
	if err := reg.Register("user_query", echoHandler("x"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	router.SetProviderAvailability(func() map[string]bool {
		return map[string]bool{"legiscan": true, "openstates": false}
	})

	st := router.Status()
	if st.Initialized {
		t.Fatalf("expected not initialized while required capability missing")
	}
	if len(st.MissingRequired) != 1 || st.MissingRequired[0] != "bill_analysis" {
		t.Fatalf("unexpected missing required: %v", st.MissingRequired)
	}
	if !st.ProviderAvailability["legiscan"] || st.ProviderAvailability["openstates"] {
		t.Fatalf("unexpected provider availability: %v", st.ProviderAvailability)
	}

	if err := reg.Register("bill_analysis", echoHandler("y"), true); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if st := router.Status(); !st.Initialized {
		t.Fatalf("expected initialized once required capabilities registered")
	}
}
