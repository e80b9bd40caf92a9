package analysis

import (
	"regexp"
	"strings"
	"time"
)

// Result is the structured form of a bill impact analysis.
type Result struct {
	BillKey             string    `json:"bill_key"`
	BillTitle           string    `json:"bill_title,omitempty"`
	ImpactAnalysis      string    `json:"impact_analysis"`
	PropertyValueChange string    `json:"property_value_change"`
	Implications        []string  `json:"assessment_implications"`
	Recommendations     []string  `json:"recommendations"`
	ConfidenceLevel     string    `json:"confidence_level"`
	Provider            string    `json:"provider"`
	Model               string    `json:"model,omitempty"`
	ComputedAt          time.Time `json:"computed_at"`
}

var (
	titleRe           = regexp.MustCompile(`(?i)Title:?\s*(.+?)(?:\n|$)`)
	valueChangeRe     = regexp.MustCompile(`(?i)(increase|decrease).*?(\d+(?:\.\d+)?)%`)
	implicationsRe    = regexp.MustCompile(`(?is)Implementation implications.*?\n(.*?)(?:\n\d\.|\z)`)
	recommendationsRe = regexp.MustCompile(`(?is)Recommendations.*?\n(.*?)(?:\n\d\.|\z)`)
	bulletRe          = regexp.MustCompile(`[-•*]\s*(.*?)(?:\n|$)`)
	sentenceSplitRe   = regexp.MustCompile(`[.!?]\s+`)
)

// extractTitle pulls a "Title:" header line out of raw bill text.
func extractTitle(billText string) string {
	head := billText
	if len(head) > 500 {
		head = head[:500]
	}
	if m := titleRe.FindStringSubmatch(head); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Untitled Bill"
}

// ParseResult extracts the structured fields from a raw analysis response.
func ParseResult(responseText string) Result {
	res := Result{
		ImpactAnalysis:      responseText,
		PropertyValueChange: "Unknown",
		ConfidenceLevel:     "medium",
	}

	if m := valueChangeRe.FindStringSubmatch(responseText); m != nil {
		sign := "+"
		if strings.EqualFold(m[1], "decrease") {
			sign = "-"
		}
		res.PropertyValueChange = sign + m[2] + "%"
	}

	res.Implications = extractSection(responseText, implicationsRe)
	if len(res.Implications) == 0 {
		res.Implications = []string{"No specific implications identified"}
	}
	res.Recommendations = extractSection(responseText, recommendationsRe)
	if len(res.Recommendations) == 0 {
		res.Recommendations = []string{"No specific recommendations provided"}
	}

	lower := strings.ToLower(responseText)
	switch {
	case strings.Contains(lower, "insufficient data") || strings.Contains(lower, "unclear"):
		res.ConfidenceLevel = "low"
	case strings.Contains(lower, "clearly") || strings.Contains(lower, "significant"):
		res.ConfidenceLevel = "high"
	}

	return res
}

// extractSection finds a named section and returns its bullet points, or the
// first few sentences when the section has no bullets.
func extractSection(text string, sectionRe *regexp.Regexp) []string {
	m := sectionRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	body := m[1]

	var items []string
	for _, bm := range bulletRe.FindAllStringSubmatch(body, -1) {
		item := strings.TrimSpace(bm[1])
		if item != "" {
			items = append(items, item)
		}
	}
	if len(items) > 0 {
		return items
	}

	for _, s := range sentenceSplitRe.Split(body, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			items = append(items, s)
		}
		if len(items) == 3 {
			break
		}
	}
	return items
}
