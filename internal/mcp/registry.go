package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Handler is the entry point of one registered capability. It receives the
// raw request payload and returns the response payload to embed in the
// result envelope.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, payload)
}

// Capability binds a request-type name to a handler.
type Capability struct {
	Name     string
	Handler  Handler
	Required bool
}

// Registry maps request-type names to handlers. Names are unique; in the
// default mode a duplicate registration replaces the prior binding with a
// logged warning, in strict mode it fails with ErrDuplicateCapability.
type Registry struct {
	mu     sync.RWMutex
	logger *log.Logger
	strict bool

	caps  map[string]Capability
	order []string // registration order, duplicates keep their original slot

	// declared required names, including ones never registered
	required map[string]bool
}

// NewRegistry constructs an empty registry. In strict mode duplicate
// registrations are rejected instead of overwritten.
func NewRegistry(logger *log.Logger, strict bool) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)
	}
	return &Registry{
		logger:   logger,
		strict:   strict,
		caps:     make(map[string]Capability),
		required: make(map[string]bool),
	}
}

// Require declares capability names that must be registered before the
// system is considered healthy. Declaring is independent of registering.
func (r *Registry) Require(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.required[n] = true
	}
}

// Register binds a handler to a capability name.
func (r *Registry) Register(name string, h Handler, required bool) error {
	if name == "" {
		return fmt.Errorf("capability name is required")
	}
	if h == nil {
		return fmt.Errorf("capability %q: handler is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[name]; exists {
		if r.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
		}
		r.logger.Printf("warn: capability %q re-registered, replacing prior handler", name)
	} else {
		r.order = append(r.order, name)
	}
	r.caps[name] = Capability{Name: name, Handler: h, Required: required}
	if required {
		r.required[name] = true
	}
	return nil
}

// Resolve returns the handler bound to name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.Handler, nil
}

// List returns registered capability names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns the registered capabilities in registration order, for
// health reporting.
func (r *Registry) Snapshot() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name])
	}
	return out
}

// MissingRequired returns required capability names with no registered
// handler, sorted for stable reporting.
func (r *Registry) MissingRequired() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for name := range r.required {
		if _, ok := r.caps[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
