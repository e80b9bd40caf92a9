package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/assessor-platform/legistrack/config"
)

const anthropicAPIURL = "https://api.anthropic.com/v1/messages"

const assessorSystemPrompt = `You are an expert assistant for a county assessor's office in Washington State.
Your role is to provide accurate, detailed analysis of legislative bills and their impact on property assessments.
Focus on objective, factual information, and cite specific sections of bills when possible.
Avoid political commentary and stick to assessment implications.
Structure your responses clearly with headings and bullet points when appropriate.`

// AnthropicClient implements Provider using the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropicClient(cfg config.AnalysisConfig) *AnthropicClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		maxTokens:  2000,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) AnalyzeBill(ctx context.Context, req AnalysisRequest) (string, error) {
	return c.Ask(ctx, assessorSystemPrompt, buildBillPrompt(req))
}

func (c *AnthropicClient) Ask(ctx context.Context, system, prompt string) (string, error) {
	body := anthropicRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiResp.Error != nil {
			return "", fmt.Errorf("API error %s: %s", apiResp.Error.Type, apiResp.Error.Message)
		}
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return sb.String(), nil
}

func buildBillPrompt(req AnalysisRequest) string {
	county := req.County
	if county == "" {
		county = "Benton"
	}
	title := req.BillTitle
	if title == "" {
		title = extractTitle(req.BillText)
	}

	var context strings.Builder
	if req.PropertyClass != "" {
		fmt.Fprintf(&context, "\nFocus specifically on '%s' class properties.", req.PropertyClass)
	}
	if req.PropertyValue > 0 {
		fmt.Fprintf(&context, "\nConsider implications for properties valued around $%.2f.", req.PropertyValue)
	}

	return fmt.Sprintf(`Analyze how this legislative bill impacts property assessments in %s County, Washington:

Bill Title: %s
%s
Bill Text:
%s

Provide a detailed, structured analysis that includes:
1. A summary of the bill's key provisions related to property assessment
2. Specific impacts on assessment methodology
3. Potential property value changes (with percentage estimates where possible)
4. Implementation implications for the assessor's office
5. Recommendations for handling the changes

Format your response as a detailed analysis followed by specific sections for each of the above points.`,
		county, title, context.String(), req.BillText)
}
