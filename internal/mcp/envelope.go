package mcp

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestEnvelope is the canonical message passed through the router. The
// payload is opaque to the router; only the registered handler decodes it.
type RequestEnvelope struct {
	Type          string          `json:"type"`
	Sender        string          `json:"sender,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// ValidateBasic ensures mandatory envelope fields are present before dispatch.
func (e *RequestEnvelope) ValidateBasic() error {
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// ResultEnvelope is the uniform response shape returned by Dispatch.
type ResultEnvelope struct {
	Success       bool            `json:"success"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         *Failure        `json:"error,omitempty"`
	Elapsed       time.Duration   `json:"elapsed_ms"`
}

// MarshalJSON reports elapsed time in whole milliseconds, matching the wire
// contract consumed by the web layer.
func (r ResultEnvelope) MarshalJSON() ([]byte, error) {
	type alias ResultEnvelope
	return json.Marshal(struct {
		alias
		Elapsed int64 `json:"elapsed_ms"`
	}{alias(r), r.Elapsed.Milliseconds()})
}
