package mcp

import (
	"errors"
	"fmt"
)

// FailureKind classifies dispatch failures in the result envelope.
type FailureKind string

const (
	FailureUnknownCapability FailureKind = "unknown_capability"
	FailureHandlerError      FailureKind = "handler_error"
	FailureTimeout           FailureKind = "timeout"
)

// Failure is the structured error descriptor carried by a ResultEnvelope.
// Handler errors and timeouts are returned as values, never raised across
// the router boundary.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// ErrDuplicateCapability indicates a strict-mode registration collision.
var ErrDuplicateCapability = errors.New("duplicate capability")

// ErrNotFound indicates no handler is registered for a capability name.
var ErrNotFound = errors.New("capability not found")
