// Package analysis produces AI-backed impact analyses of legislative bills
// and caches them by content fingerprint.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/assessor-platform/legistrack/config"
)

// AnalysisRequest carries the bill content and the assessment context the
// analysis should focus on.
type AnalysisRequest struct {
	BillKey       string  `json:"bill_key"`
	BillTitle     string  `json:"bill_title"`
	BillText      string  `json:"bill_text"`
	Status        string  `json:"status"`
	PropertyClass string  `json:"property_class,omitempty"`
	PropertyValue float64 `json:"property_value,omitempty"`
	County        string  `json:"county,omitempty"`
}

// Provider produces a raw analysis text for a bill. Implementations wrap an
// LLM API; post-processing into a structured Result happens in this package
// so every provider yields the same shape. Ask is the free-form variant used
// by the user query capability.
type Provider interface {
	AnalyzeBill(ctx context.Context, req AnalysisRequest) (string, error)
	Ask(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

var ErrNoProvider = errors.New("no analysis provider configured")

// NewProvider builds the configured provider.
func NewProvider(cfg config.AnalysisConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider: %w", ErrNoProvider)
		}
		return NewAnthropicClient(cfg), nil
	case "":
		return nil, ErrNoProvider
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q", cfg.Provider)
	}
}
