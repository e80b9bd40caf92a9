package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// ProviderAvailability reports whether named external collaborators (sources,
// analysis provider) are configured and usable. Consulted for the status
// snapshot only; the router itself never talks to providers.
type ProviderAvailability func() map[string]bool

// Router dispatches typed request envelopes to registered capability
// handlers. It is a pure dispatch layer: payloads pass through opaque, and
// every outcome is returned as a structured result, never a panic or a raw
// error across the boundary.
type Router struct {
	registry  *Registry
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	timeout   time.Duration
	providers ProviderAvailability
}

// NewRouter constructs a router around a registry. timeout bounds every
// handler invocation; zero falls back to 30s.
func NewRouter(registry *Registry, tele *telemetry.Telemetry, logger *log.Logger, timeout time.Duration) *Router {
	if logger == nil {
		logger = log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Router{registry: registry, telemetry: tele, logger: logger, timeout: timeout}
}

// SetProviderAvailability wires the availability callback used by Status.
func (r *Router) SetProviderAvailability(fn ProviderAvailability) {
	r.providers = fn
}

type handlerResult struct {
	payload json.RawMessage
	err     error
}

// Dispatch resolves the envelope type and invokes its handler under the
// router's timeout. The handler runs in its own goroutine: a timeout
// abandons the caller's wait, it does not forcibly stop the handler, so
// handlers must tolerate being abandoned. Dispatches are independent of one
// another.
func (r *Router) Dispatch(ctx context.Context, env RequestEnvelope) ResultEnvelope {
	start := time.Now()
	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}

	if err := env.ValidateBasic(); err != nil {
		return r.failure(env, start, FailureHandlerError, err.Error())
	}

	handler, err := r.registry.Resolve(env.Type)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Printf("no handler for message type %q (correlation %s)", env.Type, env.CorrelationID)
			return r.failure(env, start, FailureUnknownCapability, fmt.Sprintf("no handler for message type: %s", env.Type))
		}
		return r.failure(env, start, FailureHandlerError, err.Error())
	}

	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", rec)}
			}
		}()
		payload, err := handler.Handle(hctx, env.Payload)
		done <- handlerResult{payload: payload, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return r.failure(env, start, FailureHandlerError, res.err.Error())
		}
		elapsed := time.Since(start)
		if r.telemetry != nil {
			r.telemetry.RecordDispatch(env.Type, elapsed, "")
		}
		return ResultEnvelope{
			Success:       true,
			CorrelationID: env.CorrelationID,
			Payload:       res.payload,
			Elapsed:       elapsed,
		}
	case <-hctx.Done():
		// The handler goroutine may still be running; only the wait is
		// abandoned here.
		if ctx.Err() != nil {
			return r.failure(env, start, FailureHandlerError, ctx.Err().Error())
		}
		return r.failure(env, start, FailureTimeout, fmt.Sprintf("handler for %s exceeded %s", env.Type, r.timeout))
	}
}

func (r *Router) failure(env RequestEnvelope, start time.Time, kind FailureKind, msg string) ResultEnvelope {
	elapsed := time.Since(start)
	if r.telemetry != nil {
		r.telemetry.RecordDispatch(env.Type, elapsed, string(kind))
	}
	return ResultEnvelope{
		Success:       false,
		CorrelationID: env.CorrelationID,
		Error:         &Failure{Kind: kind, Message: msg},
		Elapsed:       elapsed,
	}
}

// Status is the health snapshot consumed by external status endpoints.
type Status struct {
	Initialized          bool            `json:"initialized"`
	ProviderAvailability map[string]bool `json:"provider_availability"`
	Capabilities         []string        `json:"capabilities"`
	Required             []string        `json:"required"`
	MissingRequired      []string        `json:"missing_required"`
}

// Status reports registered capabilities, missing required ones and the
// availability of external providers.
func (r *Router) Status() Status {
	st := Status{
		Initialized:          true,
		Capabilities:         r.registry.List(),
		MissingRequired:      r.registry.MissingRequired(),
		ProviderAvailability: map[string]bool{},
	}
	for _, c := range r.registry.Snapshot() {
		if c.Required {
			st.Required = append(st.Required, c.Name)
		}
	}
	if len(st.MissingRequired) > 0 {
		st.Initialized = false
	}
	if r.providers != nil {
		st.ProviderAvailability = r.providers()
	}
	return st
}
