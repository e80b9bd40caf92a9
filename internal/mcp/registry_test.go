package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
)

func echoHandler(reply string) Handler {
	return HandlerFunc(func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"` + reply + `"`), nil
	})
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(quietLogger(), false)
	if err := reg.Register("property_valuation", echoHandler("a"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, err := reg.Resolve("property_valuation")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, err := h.Handle(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if string(out) != `"a"` {
		t.Fatalf("unexpected payload %s", out)
	}
}

func TestResolveUnknownCapability(t *testing.T) {
	reg := NewRegistry(quietLogger(), false)
	if _, err := reg.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateRegistrationOverwritesByDefault(t *testing.T) {
	reg := NewRegistry(quietLogger(), false)
	if err := reg.Register("user_query", echoHandler("first"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("user_query", echoHandler("second"), false); err != nil {
		t.Fatalf("expected overwrite to succeed, got %v", err)
	}
	h, err := reg.Resolve("user_query")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	out, _ := h.Handle(context.Background(), nil)
	if string(out) != `"second"` {
		t.Fatalf("expected last registration to win, got %s", out)
	}
	if got := len(reg.List()); got != 1 {
		t.Fatalf("expected single registry entry, got %d", got)
	}
}

func TestDuplicateRegistrationStrictMode(t *testing.T) {
	reg := NewRegistry(quietLogger(), true)
	if err := reg.Register("user_query", echoHandler("first"), false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register("user_query", echoHandler("second"), false); !errors.Is(err, ErrDuplicateCapability) {
		t.Fatalf("expected ErrDuplicateCapability, got %v", err)
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry(quietLogger(), false)
	names := []string{"bill_analysis", "property_validation", "property_valuation", "user_query"}
	for _, n := range names {
		if err := reg.Register(n, echoHandler(n), false); err != nil {
			t.Fatalf("Register %s: %v", n, err)
		}
	}
	got := reg.List()
	if len(got) != len(names) {
		t.Fatalf("expected %d names, got %d", len(names), len(got))
	}
	for i, n := range names {
		if got[i] != n {
			t.Fatalf("position %d: expected %s, got %s", i, n, got[i])
		}
	}
}

func TestMissingRequired(t *testing.T) {
	reg := NewRegistry(quietLogger(), false)
	reg.Require("bill_analysis", "property_validation")
	if err := reg.Register("bill_analysis", echoHandler("x"), true); err != nil {
		t.Fatalf("Register: %v", err)
	}
	missing := reg.MissingRequired()
	if len(missing) != 1 || missing[0] != "property_validation" {
		t.Fatalf("expected [property_validation], got %v", missing)
	}
}
