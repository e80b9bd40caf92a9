// Package agents implements the capability handlers behind the message
// router: property validation, valuation, bill analysis, legislative impact,
// and natural-language queries.
package agents

import (
	"context"
	"log"
	"time"

	"github.com/assessor-platform/legistrack/internal/analysis"
	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/mcp"
	"github.com/assessor-platform/legistrack/internal/store"
)

// Capability names accepted by the dispatcher.
const (
	CapBillAnalysis       = "bill_analysis"
	CapPropertyValidation = "property_validation"
	CapBatchValidate      = "batch_validate"
	CapPropertyValuation  = "property_valuation"
	CapPropertyImpact     = "property_impact"
	CapUserQuery          = "user_query"
)

// BillReader is the read-only slice of the store the agents use.
type BillReader interface {
	GetByKey(ctx context.Context, key string) (*bills.Record, error)
	List(ctx context.Context, opts store.ListOptions) ([]bills.Record, error)
	Search(ctx context.Context, query string, limit int) ([]bills.Record, error)
}

// TextResolver fetches full bill text on demand for records that carry a
// bill-page link but no stored text.
type TextResolver interface {
	BillText(ctx context.Context, pageURL string) (string, error)
}

// Deps carries everything the handlers share.
type Deps struct {
	Bills    BillReader
	Provider analysis.Provider
	Cache    *analysis.Cache
	Text     TextResolver
	Model    string
	County   string
	Logger   *log.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// RegisterAll wires every handler into the registry. Analysis-backed
// capabilities register even without a provider; they fail per-request so
// the router can report provider availability honestly.
func RegisterAll(reg *mcp.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = log.New(log.Writer(), "[AGENTS] ", log.LstdFlags)
	}
	validation := NewValidationAgent(DefaultValidationRules(), deps.Logger)
	valuation := NewValuationAgent(deps.Logger, deps.now)
	billAnalysis := NewBillAnalysisAgent(deps)
	impact := NewImpactAgent(deps)
	userQuery := NewUserQueryAgent(deps, validation)

	handlers := []struct {
		name string
		h    mcp.Handler
	}{
		{CapBillAnalysis, billAnalysis},
		{CapPropertyValidation, mcp.HandlerFunc(validation.HandleValidate)},
		{CapBatchValidate, mcp.HandlerFunc(validation.HandleBatch)},
		{CapPropertyValuation, valuation},
		{CapPropertyImpact, impact},
		{CapUserQuery, userQuery},
	}
	for _, c := range handlers {
		if err := reg.Register(c.name, c.h, true); err != nil {
			return err
		}
	}
	return nil
}
