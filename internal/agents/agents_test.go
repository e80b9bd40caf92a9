package agents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/assessor-platform/legistrack/internal/analysis"
	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/mcp"
	"github.com/assessor-platform/legistrack/internal/sources"
	"github.com/assessor-platform/legistrack/internal/store"
)

var quiet = log.New(io.Discard, "", 0)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func fixedNow() time.Time         { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

type fakeBills struct {
	records map[string]bills.Record
}

func (f *fakeBills) GetByKey(ctx context.Context, key string) (*bills.Record, error) {
	rec, ok := f.records[key]
	if !ok {
		return nil, bills.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeBills) List(ctx context.Context, opts store.ListOptions) ([]bills.Record, error) {
	var out []bills.Record
	for _, rec := range f.records {
		if !opts.UpdatedSince.IsZero() && rec.UpdatedAt.Before(opts.UpdatedSince) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeBills) Search(ctx context.Context, query string, limit int) ([]bills.Record, error) {
	var out []bills.Record
	q := strings.ToLower(query)
	for _, rec := range f.records {
		if strings.Contains(strings.ToLower(rec.BillNumber+" "+rec.Title), q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeProvider struct {
	response string
	err      error
	calls    int
	lastReq  analysis.AnalysisRequest
}

func (p *fakeProvider) AnalyzeBill(ctx context.Context, req analysis.AnalysisRequest) (string, error) {
	p.calls++
	p.lastReq = req
	return p.response, p.err
}

func (p *fakeProvider) Ask(ctx context.Context, system, prompt string) (string, error) {
	p.calls++
	return p.response, p.err
}

func (p *fakeProvider) Name() string { return "fake" }

func validProperty() PropertyData {
	return PropertyData{
		ParcelID:        "12345678-123",
		PropertyAddress: "420 Vineyard Dr, Kennewick, WA",
		AssessmentYear:  intPtr(2025),
		AssessedValue:   floatPtr(350000),
		PropertyClass:   "Residential",
	}
}

func TestValidateAcceptsCleanRecord(t *testing.T) {
	a := NewValidationAgent(DefaultValidationRules(), quiet)
	res := a.Validate(validProperty())
	if res.HasErrors {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.HasWarnings {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestValidateRules(t *testing.T) {
	a := NewValidationAgent(DefaultValidationRules(), quiet)
	tests := []struct {
		name    string
		mutate  func(*PropertyData)
		errPart string
	}{
		{"bad parcel format", func(p *PropertyData) { p.ParcelID = "1234-56" }, "Invalid parcel ID format"},
		{"missing parcel", func(p *PropertyData) { p.ParcelID = "" }, "Parcel ID is required"},
		{"missing address", func(p *PropertyData) { p.PropertyAddress = "" }, "address is required"},
		{"year too old", func(p *PropertyData) { p.AssessmentYear = intPtr(2015) }, "Assessment year must be between"},
		{"missing year", func(p *PropertyData) { p.AssessmentYear = nil }, "Assessment year is required"},
		{"value too low", func(p *PropertyData) { p.AssessedValue = floatPtr(500) }, "cannot be less than"},
		{"value too high", func(p *PropertyData) { p.AssessedValue = floatPtr(2e9) }, "cannot exceed"},
		{"unknown class", func(p *PropertyData) { p.PropertyClass = "Spaceport" }, "Invalid property class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prop := validProperty()
			tt.mutate(&prop)
			res := a.Validate(prop)
			if !res.HasErrors {
				t.Fatal("expected errors")
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, tt.errPart) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error containing %q, got %v", tt.errPart, res.Errors)
			}
		})
	}
}

func TestValidateWarnsOnOutOfStateAddress(t *testing.T) {
	a := NewValidationAgent(DefaultValidationRules(), quiet)
	prop := validProperty()
	prop.PropertyAddress = "500 Main St, Portland, OR"
	res := a.Validate(prop)
	if res.HasErrors {
		t.Fatalf("address state is a warning, not an error: %v", res.Errors)
	}
	if !res.HasWarnings {
		t.Fatal("expected a warning")
	}
}

func TestHandleBatchSummary(t *testing.T) {
	a := NewValidationAgent(DefaultValidationRules(), quiet)
	bad := validProperty()
	bad.ParcelID = "nope"
	payload, _ := json.Marshal(batchRequest{Properties: []PropertyData{validProperty(), bad}})

	out, err := a.HandleBatch(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}
	var resp batchResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Total != 2 || resp.Summary.Valid != 1 || resp.Summary.Invalid != 1 {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}
}

func TestMarketApproach(t *testing.T) {
	a := NewValuationAgent(quiet, fixedNow)
	prop := validProperty()
	res := a.MarketApproach(prop)
	if res.MarketValue != 367500 {
		t.Errorf("residential multiplier: got %v", res.MarketValue)
	}
	if res.Methodology != "market_comparison" {
		t.Errorf("methodology: %q", res.Methodology)
	}
}

func TestCostApproach(t *testing.T) {
	a := NewValuationAgent(quiet, fixedNow)
	prop := validProperty()
	prop.YearBuilt = 1995
	prop.BuildingArea = 2000
	prop.LandArea = 8000

	res := a.CostApproach(prop)
	if res.BuildingAge != 30 {
		t.Errorf("age: got %d", res.BuildingAge)
	}
	if res.DepreciationRate != 0.30 {
		t.Errorf("depreciation: got %v", res.DepreciationRate)
	}
	// 2000*200 = 400000 replacement, 280000 depreciated, 80000 land.
	if res.CostValue != 360000 {
		t.Errorf("cost value: got %v", res.CostValue)
	}
}

func TestCostApproachDepreciationCap(t *testing.T) {
	a := NewValuationAgent(quiet, fixedNow)
	prop := validProperty()
	prop.YearBuilt = 1900
	res := a.CostApproach(prop)
	if res.DepreciationRate != 0.5 {
		t.Errorf("depreciation must cap at 50%%: got %v", res.DepreciationRate)
	}
}

func TestIncomeApproach(t *testing.T) {
	a := NewValuationAgent(quiet, fixedNow)

	prop := validProperty()
	prop.PropertyClass = "Commercial"
	prop.BuildingArea = 10000
	res := a.IncomeApproach(prop)
	if res.IncomeValue == nil {
		t.Fatalf("expected a value: %+v", res)
	}
	// 150000 PGI, 142500 EGI, 85500 NOI, 85500/0.07.
	if *res.IncomeValue != 1221428.57 {
		t.Errorf("income value: got %v", *res.IncomeValue)
	}

	residential := validProperty()
	resErr := a.IncomeApproach(residential)
	if resErr.IncomeValue != nil || resErr.Error == "" {
		t.Errorf("income approach must reject residential: %+v", resErr)
	}
}

func TestBillAnalysisUsesCacheAcrossCalls(t *testing.T) {
	rec := bills.Record{
		BillKey:    "wa:hb 1234",
		BillNumber: "HB 1234",
		Title:      "Levy limits",
		Status:     "Passed",
		FullText:   "AN ACT Relating to levy limits.",
		Sources:    []string{"wa_legislature"},
	}
	provider := &fakeProvider{response: "Values clearly increase by 3% under this act."}
	deps := Deps{
		Bills:    &fakeBills{records: map[string]bills.Record{rec.BillKey: rec}},
		Provider: provider,
		Cache:    analysis.NewCache(analysis.NewMemoryBackend(), 0, nil),
		Model:    "test-model",
		County:   "Benton",
		Logger:   quiet,
		Now:      fixedNow,
	}
	agent := NewBillAnalysisAgent(deps)
	payload, _ := json.Marshal(map[string]any{"bill_key": rec.BillKey})

	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var first billAnalysisResponse
	if err := json.Unmarshal(out, &first); err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Error("first call must be a miss")
	}
	if first.PropertyValueChange != "+3%" || first.ConfidenceLevel != "high" {
		t.Errorf("post-processing failed: %+v", first.Result)
	}
	if first.BillStatus != "Passed" {
		t.Errorf("bill metadata missing: %+v", first)
	}

	out, err = agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("second Handle: %v", err)
	}
	var second billAnalysisResponse
	json.Unmarshal(out, &second)
	if !second.Cached {
		t.Error("second call must hit the cache")
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times, want 1", provider.calls)
	}
}

func TestBillAnalysisUnknownBill(t *testing.T) {
	deps := Deps{
		Bills:    &fakeBills{records: map[string]bills.Record{}},
		Provider: &fakeProvider{response: "x"},
		Cache:    analysis.NewCache(analysis.NewMemoryBackend(), 0, nil),
		Logger:   quiet,
	}
	agent := NewBillAnalysisAgent(deps)
	payload, _ := json.Marshal(map[string]any{"bill_key": "wa:hb 9999"})
	if _, err := agent.Handle(context.Background(), payload); err == nil {
		t.Fatal("expected error for bill with no text")
	}
}

type fakeTextResolver struct {
	text    string
	err     error
	lastURL string
}

func (r *fakeTextResolver) BillText(ctx context.Context, pageURL string) (string, error) {
	r.lastURL = pageURL
	return r.text, r.err
}

func TestBillAnalysisFetchesTextFromBillPage(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{
		"Title": "HB 2044 Property tax relief",
		"Link":  "https://app.leg.wa.gov/billsummary?BillNumber=2044",
	})
	rec := bills.Record{
		BillKey:     "wa:hb 2044",
		BillNumber:  "HB 2044",
		Title:       "Property tax relief",
		Summary:     "Short summary only.",
		Sources:     []string{sources.SourceWALegislature},
		RawPayloads: map[string]json.RawMessage{sources.SourceWALegislature: payload},
	}
	provider := &fakeProvider{response: "Values decrease by 2%."}
	resolver := &fakeTextResolver{text: "AN ACT Relating to property tax relief for seniors."}
	deps := Deps{
		Bills:    &fakeBills{records: map[string]bills.Record{rec.BillKey: rec}},
		Provider: provider,
		Cache:    analysis.NewCache(analysis.NewMemoryBackend(), 0, nil),
		Text:     resolver,
		Logger:   quiet,
	}
	agent := NewBillAnalysisAgent(deps)
	req, _ := json.Marshal(map[string]any{"bill_key": rec.BillKey})

	if _, err := agent.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resolver.lastURL != "https://app.leg.wa.gov/billsummary?BillNumber=2044" {
		t.Errorf("resolver got %q", resolver.lastURL)
	}
	if provider.lastReq.BillText != resolver.text {
		t.Errorf("provider analyzed %q, want fetched bill text", provider.lastReq.BillText)
	}
}

func TestBillAnalysisFallsBackToSummaryWhenFetchFails(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"Link": "https://app.leg.wa.gov/billsummary?BillNumber=2044"})
	rec := bills.Record{
		BillKey:     "wa:hb 2044",
		Summary:     "Short summary only.",
		RawPayloads: map[string]json.RawMessage{sources.SourceWALegislature: payload},
	}
	provider := &fakeProvider{response: "x"}
	deps := Deps{
		Bills:    &fakeBills{records: map[string]bills.Record{rec.BillKey: rec}},
		Provider: provider,
		Cache:    analysis.NewCache(analysis.NewMemoryBackend(), 0, nil),
		Text:     &fakeTextResolver{err: errors.New("fetch failed")},
		Logger:   quiet,
	}
	agent := NewBillAnalysisAgent(deps)
	req, _ := json.Marshal(map[string]any{"bill_key": rec.BillKey})

	if _, err := agent.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if provider.lastReq.BillText != rec.Summary {
		t.Errorf("provider analyzed %q, want summary fallback", provider.lastReq.BillText)
	}
}

func TestImpactBillAnalysis(t *testing.T) {
	rec := bills.Record{
		BillKey:    "wa:hb 1234",
		BillNumber: "HB 1234",
		Title:      "Concerning property tax levy limits",
		Summary:    "Caps levy growth and adjusts exemption rates for residential homeowners.",
		Status:     "Passed",
		UpdatedAt:  fixedNow(),
	}
	deps := Deps{
		Bills:  &fakeBills{records: map[string]bills.Record{rec.BillKey: rec}},
		Logger: quiet,
		Now:    fixedNow,
	}
	agent := NewImpactAgent(deps)

	payload, _ := json.Marshal(map[string]any{"analysis_type": "bill", "bill_key": rec.BillKey})
	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var resp struct {
		ImpactAnalysis struct {
			TaxImpact           approachImpact            `json:"tax_impact"`
			PropertyClassImpact map[string]approachImpact `json:"property_class_impact"`
		} `json:"impact_analysis"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ImpactAnalysis.TaxImpact.Impact == "low" {
		t.Errorf("levy bill should register tax impact: %+v", resp.ImpactAnalysis.TaxImpact)
	}
	if resp.ImpactAnalysis.PropertyClassImpact["Residential"].Impact == "low" {
		t.Errorf("residential keywords present: %+v", resp.ImpactAnalysis.PropertyClassImpact)
	}
}

func TestImpactOverview(t *testing.T) {
	recs := map[string]bills.Record{
		"wa:hb 1": {BillKey: "wa:hb 1", BillNumber: "HB 1", StatusClass: bills.StatusPassed, UpdatedAt: fixedNow()},
		"wa:hb 2": {BillKey: "wa:hb 2", BillNumber: "HB 2", StatusClass: bills.StatusIntroduced, UpdatedAt: fixedNow()},
	}
	agent := NewImpactAgent(Deps{Bills: &fakeBills{records: recs}, Logger: quiet, Now: fixedNow})

	payload, _ := json.Marshal(map[string]any{"analysis_type": "overview"})
	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var resp struct {
		Overview struct {
			StatusCounts map[string]int `json:"status_counts"`
		} `json:"legislative_overview"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Overview.StatusCounts["passed"] != 1 || resp.Overview.StatusCounts["introduced"] != 1 {
		t.Errorf("unexpected counts: %v", resp.Overview.StatusCounts)
	}
}

func TestUserQueryIntents(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"find property at 123 Main St", "property_search"},
		{"what is the value of my parcel", "valuation_request"},
		{"validate this record", "data_validation"},
		{"help with submitting batches", "help_request"},
		{"tell me about levy law history", "general_inquiry"},
	}
	for _, tt := range tests {
		if got := determineIntent(tt.query); got != tt.want {
			t.Errorf("determineIntent(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestUserQuerySearchReturnsTrackedBills(t *testing.T) {
	rec := bills.Record{BillKey: "wa:hb 1234", BillNumber: "HB 1234", Title: "Levy limits", Status: "Passed"}
	agent := NewUserQueryAgent(Deps{Bills: &fakeBills{records: map[string]bills.Record{rec.BillKey: rec}}, Logger: quiet}, nil)

	payload, _ := json.Marshal(map[string]any{"query": "search for HB 1234"})
	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var resp userQueryResponse
	json.Unmarshal(out, &resp)
	if resp.Intent != "property_search" {
		t.Errorf("intent: %q", resp.Intent)
	}
}

func TestUserQueryWithoutProviderDegrades(t *testing.T) {
	agent := NewUserQueryAgent(Deps{Logger: quiet}, nil)
	payload, _ := json.Marshal(map[string]any{"query": "tell me about levy law history"})
	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var resp userQueryResponse
	json.Unmarshal(out, &resp)
	if resp.IsAIGenerated || resp.Confidence != 0.3 {
		t.Errorf("expected degraded response: %+v", resp)
	}
}

func TestUserQueryAIPath(t *testing.T) {
	provider := &fakeProvider{response: "Levy law explanation."}
	agent := NewUserQueryAgent(Deps{Provider: provider, Logger: quiet}, nil)

	payload, _ := json.Marshal(map[string]any{"query": "tell me about levy law history"})
	out, err := agent.Handle(context.Background(), payload)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var resp userQueryResponse
	json.Unmarshal(out, &resp)
	if !resp.IsAIGenerated || resp.Response != "Levy law explanation." {
		t.Errorf("unexpected response: %+v", resp)
	}

	provider.err = errors.New("provider down")
	if _, err := agent.Handle(context.Background(), payload); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestRegisterAllWiresEveryCapability(t *testing.T) {
	reg := mcp.NewRegistry(quiet, true)
	deps := Deps{
		Bills:  &fakeBills{records: map[string]bills.Record{}},
		Logger: quiet,
	}
	if err := RegisterAll(reg, deps); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	for _, name := range []string{
		CapBillAnalysis, CapPropertyValidation, CapBatchValidate,
		CapPropertyValuation, CapPropertyImpact, CapUserQuery,
	} {
		if _, err := reg.Resolve(name); err != nil {
			t.Errorf("capability %s not registered: %v", name, err)
		}
	}
	if missing := reg.MissingRequired(); len(missing) != 0 {
		t.Errorf("missing required: %v", missing)
	}
}
