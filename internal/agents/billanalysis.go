package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/assessor-platform/legistrack/internal/analysis"
	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/sources"
)

// BillAnalysisAgent produces an AI impact analysis for a tracked bill. It
// resolves the bill from the store, then consults the analysis cache; the
// provider is only called on a miss.
type BillAnalysisAgent struct {
	deps Deps
}

func NewBillAnalysisAgent(deps Deps) *BillAnalysisAgent {
	return &BillAnalysisAgent{deps: deps}
}

type billAnalysisRequest struct {
	BillKey       string  `json:"bill_key"`
	Jurisdiction  string  `json:"jurisdiction"`
	BillNumber    string  `json:"bill_number"`
	BillText      string  `json:"bill_text"`
	BillTitle     string  `json:"bill_title"`
	PropertyClass string  `json:"property_class"`
	PropertyValue float64 `json:"property_value"`
}

type billAnalysisResponse struct {
	analysis.Result
	BillStatus string   `json:"bill_status,omitempty"`
	Sources    []string `json:"bill_sources,omitempty"`
	Cached     bool     `json:"cached"`
}

func (a *BillAnalysisAgent) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req billAnalysisRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if a.deps.Provider == nil || a.deps.Cache == nil {
		return nil, fmt.Errorf("analysis provider not configured")
	}

	analysisReq := analysis.AnalysisRequest{
		BillKey:       req.BillKey,
		BillTitle:     req.BillTitle,
		BillText:      req.BillText,
		PropertyClass: req.PropertyClass,
		PropertyValue: req.PropertyValue,
		County:        a.deps.County,
	}

	var rec *bills.Record
	if req.BillKey == "" && req.Jurisdiction != "" && req.BillNumber != "" {
		analysisReq.BillKey = bills.NormalizeKey(req.Jurisdiction, req.BillNumber)
	}
	if analysisReq.BillKey != "" && a.deps.Bills != nil {
		var err error
		rec, err = a.deps.Bills.GetByKey(ctx, analysisReq.BillKey)
		if err != nil && !errors.Is(err, bills.ErrNotFound) {
			return nil, fmt.Errorf("load bill %s: %w", analysisReq.BillKey, err)
		}
	}
	if rec != nil {
		analysisReq.Status = rec.Status
		if analysisReq.BillTitle == "" {
			analysisReq.BillTitle = rec.Title
		}
		if analysisReq.BillText == "" {
			analysisReq.BillText = rec.FullText
			if analysisReq.BillText == "" {
				analysisReq.BillText = a.lazyText(ctx, rec)
			}
			if analysisReq.BillText == "" {
				analysisReq.BillText = rec.Summary
			}
		}
	}
	if analysisReq.BillText == "" {
		if analysisReq.BillKey != "" {
			return nil, fmt.Errorf("bill %s has no text to analyze", analysisReq.BillKey)
		}
		return nil, fmt.Errorf("no bill text provided")
	}

	fp := analysis.Fingerprint(analysisReq, a.deps.Model)
	result, cached, err := a.deps.Cache.GetOrCompute(ctx, fp, func(ctx context.Context) (analysis.Result, error) {
		raw, err := a.deps.Provider.AnalyzeBill(ctx, analysisReq)
		if err != nil {
			return analysis.Result{}, err
		}
		res := analysis.ParseResult(raw)
		res.BillKey = analysisReq.BillKey
		res.BillTitle = analysisReq.BillTitle
		res.Provider = a.deps.Provider.Name()
		res.Model = a.deps.Model
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyze bill: %w", err)
	}

	resp := billAnalysisResponse{Result: result, Cached: cached}
	if rec != nil {
		resp.BillStatus = rec.Status
		resp.Sources = rec.Sources
	}
	return json.Marshal(resp)
}

// lazyText fetches full bill text from the legislature bill page recorded in
// the source payload. Resolution failures degrade to the stored summary.
func (a *BillAnalysisAgent) lazyText(ctx context.Context, rec *bills.Record) string {
	if a.deps.Text == nil {
		return ""
	}
	payload, ok := rec.RawPayloads[sources.SourceWALegislature]
	if !ok {
		return ""
	}
	var item struct {
		Link string `json:"Link"`
	}
	if err := json.Unmarshal(payload, &item); err != nil || item.Link == "" {
		return ""
	}
	text, err := a.deps.Text.BillText(ctx, item.Link)
	if err != nil {
		if a.deps.Logger != nil {
			a.deps.Logger.Printf("bill text fetch for %s failed: %v", rec.BillKey, err)
		}
		return ""
	}
	return text
}
