package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assessor-platform/legistrack/internal/bills"
)

// Cursor is the per-source, per-query polling state. It is owned by the
// scheduler/source pairing and only advances after a fully successful
// fetch-and-merge cycle.
type Cursor struct {
	LastFetch    time.Time `json:"last_fetch"`
	Token        string    `json:"token,omitempty"`
	FailureCount int       `json:"failure_count"`
}

// Client is one external legislative data source. FetchSince returns the
// records published since the cursor along with the cursor to commit once
// the batch has been merged.
type Client interface {
	ID() string

	// Available reports whether the source is configured (credential
	// present, directory exists). An unavailable source contributes
	// nothing but never destabilizes the others.
	Available() bool

	FetchSince(ctx context.Context, cursor Cursor) ([]bills.RawRecord, Cursor, error)
}

// ErrUnavailable marks a source with no configured credential. It is an
// expected degraded state, not a retryable failure.
var ErrUnavailable = errors.New("source unavailable: no credential configured")

// TransientError wraps a retryable fetch failure (network timeout, rate
// limit, 5xx). The scheduler retries these with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a non-retryable failure (auth failure, malformed
// query). Polling for the source is suspended until reconfiguration.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err suspends polling for the source.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
