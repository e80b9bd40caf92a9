package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UserQueryAgent answers natural-language questions from assessor staff.
// Keyword intents route to the local capabilities; everything else goes to
// the AI provider when one is configured.
type UserQueryAgent struct {
	deps       Deps
	validation *ValidationAgent
}

func NewUserQueryAgent(deps Deps, validation *ValidationAgent) *UserQueryAgent {
	return &UserQueryAgent{deps: deps, validation: validation}
}

type userQueryRequest struct {
	Query   string          `json:"query"`
	Context json.RawMessage `json:"context,omitempty"`
}

type userQueryResponse struct {
	Response      string   `json:"response"`
	Intent        string   `json:"intent"`
	Confidence    float64  `json:"confidence"`
	HelpTopic     string   `json:"help_topic,omitempty"`
	Matches       []string `json:"matches,omitempty"`
	IsAIGenerated bool     `json:"is_ai_generated,omitempty"`
}

var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{"property_search", []string{"find", "search", "lookup", "locate", "get property"}},
	{"valuation_request", []string{"value", "assess", "worth", "price", "appraise"}},
	{"data_validation", []string{"validate", "check", "verify", "review"}},
	{"help_request", []string{"help", "guide", "how to", "instructions", "explain"}},
}

func determineIntent(query string) string {
	q := strings.ToLower(query)
	for _, candidate := range intentKeywords {
		for _, kw := range candidate.keywords {
			if strings.Contains(q, kw) {
				return candidate.intent
			}
		}
	}
	return "general_inquiry"
}

func (a *UserQueryAgent) Handle(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var req userQueryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("no query provided")
	}

	intent := determineIntent(req.Query)
	var resp userQueryResponse
	switch intent {
	case "property_search":
		resp = a.handleSearch(ctx, req.Query)
	case "valuation_request":
		resp = userQueryResponse{
			Response:   fmt.Sprintf("I'll calculate the value for the property based on: %q. Send the property record to the property_valuation capability with a valuation_approach of market, cost, or income.", req.Query),
			Intent:     intent,
			Confidence: 0.85,
		}
	case "data_validation":
		resp = userQueryResponse{
			Response:   fmt.Sprintf("I'll validate the property data for: %q. Send the record to the property_validation capability, or a list to batch_validate.", req.Query),
			Intent:     intent,
			Confidence: 0.85,
		}
	case "help_request":
		resp = a.handleHelp(req.Query)
	default:
		return a.aiAssisted(ctx, req)
	}
	return json.Marshal(resp)
}

// handleSearch runs the query against the bill store so "find HB 1234"
// returns tracked legislation directly.
func (a *UserQueryAgent) handleSearch(ctx context.Context, query string) userQueryResponse {
	resp := userQueryResponse{
		Response:   fmt.Sprintf("I'll search for records matching: %q", query),
		Intent:     "property_search",
		Confidence: 0.85,
	}
	if a.deps.Bills == nil {
		return resp
	}
	results, err := a.deps.Bills.Search(ctx, strings.TrimSpace(query), 10)
	if err != nil {
		return resp
	}
	for _, rec := range results {
		resp.Matches = append(resp.Matches, fmt.Sprintf("%s: %s (%s)", rec.BillNumber, rec.Title, rec.Status))
	}
	if len(resp.Matches) > 0 {
		resp.Response = fmt.Sprintf("Found %d tracked bills matching %q.", len(resp.Matches), query)
		resp.Confidence = 0.9
	}
	return resp
}

func (a *UserQueryAgent) handleHelp(query string) userQueryResponse {
	q := strings.ToLower(query)
	resp := userQueryResponse{Intent: "help_request", Confidence: 0.9}
	switch {
	case strings.Contains(q, "search"):
		resp.HelpTopic = "property_search"
		resp.Response = "To search, ask things like: 'Find property at 123 Main St' or 'Search for HB 1234'."
	case strings.Contains(q, "valuation") || strings.Contains(q, "value"):
		resp.HelpTopic = "valuation"
		resp.Response = "To get a valuation, ask: 'What is the value of 123 Main St?' or request the income approach for a commercial parcel."
	case strings.Contains(q, "validation") || strings.Contains(q, "validate"):
		resp.HelpTopic = "validation"
		resp.Response = "To validate data, ask: 'Validate data for 123 Main St' or 'Check if parcel 12345678-123 meets standards'."
	default:
		resp.HelpTopic = "general"
		resp.Response = "I can help with property searches, valuations, data validation, and bill impact analysis. Just ask me what you need."
	}
	return resp
}

const userQuerySystemPrompt = `You are an AI assistant for a county assessor's office in Washington State.
You help assessor staff with property assessments, valuations, and Washington State
property tax regulations. Answer questions concisely and accurately. If you don't know
the answer, say so and suggest how the user might find the information.`

func (a *UserQueryAgent) aiAssisted(ctx context.Context, req userQueryRequest) (json.RawMessage, error) {
	if a.deps.Provider == nil {
		return json.Marshal(userQueryResponse{
			Response:   "I can only answer property search, valuation, validation, and help questions right now; no AI provider is configured for general inquiries.",
			Intent:     "general_inquiry",
			Confidence: 0.3,
		})
	}

	prompt := req.Query
	if len(req.Context) > 0 {
		prompt += "\n\nContext: " + string(req.Context)
	}
	raw, err := a.deps.Provider.Ask(ctx, userQuerySystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("ai response: %w", err)
	}
	return json.Marshal(userQueryResponse{
		Response:      raw,
		Intent:        "general_inquiry",
		Confidence:    0.7,
		IsAIGenerated: true,
	})
}
