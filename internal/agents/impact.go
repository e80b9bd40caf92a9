package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/store"
)

// ImpactAgent reports how tracked legislation affects assessment work:
// per-bill impact, per-property-class impact, and a session overview. All
// answers come from the merged bill store.
type ImpactAgent struct {
	deps Deps
}

func NewImpactAgent(deps Deps) *ImpactAgent {
	return &ImpactAgent{deps: deps}
}

type impactRequest struct {
	AnalysisType  string `json:"analysis_type"`
	BillKey       string `json:"bill_key"`
	Jurisdiction  string `json:"jurisdiction"`
	BillNumber    string `json:"bill_number"`
	PropertyClass string `json:"property_class"`
}

// classKeywords map property classes to bill-text keywords used to find
// legislation relevant to that class.
var classKeywords = map[string][]string{
	"Residential":  {"residential", "homeowner", "homestead", "dwelling", "single-family"},
	"Commercial":   {"commercial", "business", "retail", "office"},
	"Industrial":   {"industrial", "manufacturing"},
	"Agricultural": {"agricultural", "farm", "timber", "open space", "current use"},
	"Vacant Land":  {"vacant", "undeveloped"},
	"Public":       {"public", "exempt", "government"},
}

func (a *ImpactAgent) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req impactRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if a.deps.Bills == nil {
		return nil, fmt.Errorf("bill store not configured")
	}

	analysisType := req.AnalysisType
	if analysisType == "" {
		analysisType = "bill"
	}
	switch analysisType {
	case "bill":
		return a.billImpact(ctx, req)
	case "property_class":
		return a.classImpact(ctx, req)
	case "overview":
		return a.overview(ctx)
	default:
		return nil, fmt.Errorf("unknown analysis type: %s", analysisType)
	}
}

type approachImpact struct {
	Impact      string `json:"impact"`
	Description string `json:"description"`
}

func (a *ImpactAgent) billImpact(ctx context.Context, req impactRequest) (json.RawMessage, error) {
	key := req.BillKey
	if key == "" {
		if req.Jurisdiction == "" || req.BillNumber == "" {
			return nil, fmt.Errorf("no bill identified for analysis")
		}
		key = bills.NormalizeKey(req.Jurisdiction, req.BillNumber)
	}
	rec, err := a.deps.Bills.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, bills.ErrNotFound) {
			return nil, fmt.Errorf("unable to retrieve data for bill %s", key)
		}
		return nil, err
	}

	text := strings.ToLower(rec.Title + " " + rec.Summary + " " + rec.FullText)
	impacts := map[string]approachImpact{
		"market_approach": rateApproach(text, "market", "sale", "comparable"),
		"cost_approach":   rateApproach(text, "cost", "replacement", "depreciation"),
		"income_approach": rateApproach(text, "income", "capitalization", "rent"),
	}

	classImpacts := make(map[string]approachImpact)
	for class, keywords := range classKeywords {
		classImpacts[class] = rateApproach(text, keywords...)
	}

	return json.Marshal(map[string]any{
		"impact_analysis": map[string]any{
			"bill_key":              rec.BillKey,
			"summary":               fmt.Sprintf("Analysis of %s: %s", rec.BillNumber, rec.Title),
			"valuation_impact":      impacts,
			"tax_impact":            rateApproach(text, "tax", "levy", "exemption", "rate"),
			"property_class_impact": classImpacts,
		},
		"bill_data": rec,
	})
}

// rateApproach scores keyword density into low/medium/high.
func rateApproach(text string, keywords ...string) approachImpact {
	hits := 0
	var matched []string
	for _, kw := range keywords {
		if n := strings.Count(text, kw); n > 0 {
			hits += n
			matched = append(matched, kw)
		}
	}
	switch {
	case hits == 0:
		return approachImpact{Impact: "low", Description: "No relevant provisions found"}
	case hits < 3:
		return approachImpact{Impact: "medium", Description: "Mentions: " + strings.Join(matched, ", ")}
	default:
		return approachImpact{Impact: "high", Description: "Repeated provisions touching: " + strings.Join(matched, ", ")}
	}
}

type classBillImpact struct {
	BillKey string `json:"bill_key"`
	Number  string `json:"bill_number"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	Impact  string `json:"impact"`
}

func (a *ImpactAgent) classImpact(ctx context.Context, req impactRequest) (json.RawMessage, error) {
	if req.PropertyClass == "" {
		return nil, fmt.Errorf("no property class provided for analysis")
	}
	keywords, ok := classKeywords[req.PropertyClass]
	if !ok {
		return nil, fmt.Errorf("no impact analysis available for property class: %s", req.PropertyClass)
	}

	recent, err := a.deps.Bills.List(ctx, store.ListOptions{Limit: 200})
	if err != nil {
		return nil, err
	}

	var matches []classBillImpact
	for _, rec := range recent {
		text := strings.ToLower(rec.Title + " " + rec.Summary)
		impact := rateApproach(text, keywords...)
		if impact.Impact == "low" {
			continue
		}
		matches = append(matches, classBillImpact{
			BillKey: rec.BillKey,
			Number:  rec.BillNumber,
			Title:   rec.Title,
			Status:  rec.Status,
			Impact:  impact.Impact,
		})
	}

	summary := fmt.Sprintf("No tracked legislation currently affects %s properties.", req.PropertyClass)
	if len(matches) > 0 {
		summary = fmt.Sprintf("%d tracked bills affect %s properties.", len(matches), req.PropertyClass)
	}
	return json.Marshal(map[string]any{
		"class_impact": map[string]any{
			"property_class":     req.PropertyClass,
			"recent_legislation": matches,
			"impact_summary":     summary,
		},
	})
}

func (a *ImpactAgent) overview(ctx context.Context) (json.RawMessage, error) {
	since := a.deps.now().AddDate(0, -3, 0)
	recent, err := a.deps.Bills.List(ctx, store.ListOptions{UpdatedSince: since, Limit: 100})
	if err != nil {
		return nil, err
	}

	counts := make(map[bills.StatusClass]int)
	type overviewBill struct {
		BillKey    string    `json:"bill_key"`
		Number     string    `json:"bill_number"`
		Title      string    `json:"title"`
		Status     string    `json:"status"`
		LastAction time.Time `json:"last_action"`
	}
	out := make([]overviewBill, 0, len(recent))
	for _, rec := range recent {
		counts[rec.StatusClass]++
		out = append(out, overviewBill{
			BillKey:    rec.BillKey,
			Number:     rec.BillNumber,
			Title:      rec.Title,
			Status:     rec.Status,
			LastAction: rec.LastAction,
		})
	}

	return json.Marshal(map[string]any{
		"legislative_overview": map[string]any{
			"window_start": since,
			"recent_bills": out,
			"status_counts": map[string]int{
				"introduced": counts[bills.StatusIntroduced],
				"active":     counts[bills.StatusActive],
				"passed":     counts[bills.StatusPassed],
				"failed":     counts[bills.StatusFailed],
				"unknown":    counts[bills.StatusUnknown],
			},
		},
	})
}
