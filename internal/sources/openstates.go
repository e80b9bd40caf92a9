package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/bills"
)

// SourceOpenStates is the registry name of the OpenStates client.
const SourceOpenStates = "openstates"

// openStatesMaxPages bounds how many pages one poll consumes. If more pages
// remain the continuation token carries the next page so the next poll
// resumes the window instead of refetching it.
const openStatesMaxPages = 5

// OpenStatesClient fetches bills from the OpenStates v3 API, paginated by
// page number with an updated_since delta filter.
type OpenStatesClient struct {
	cfg  config.OpenStatesConfig
	http *HTTPClient
}

func NewOpenStatesClient(cfg config.OpenStatesConfig, http *HTTPClient) *OpenStatesClient {
	if http == nil {
		http = NewHTTPClient(0, 2, 0)
	}
	return &OpenStatesClient{cfg: cfg, http: http}
}

func (c *OpenStatesClient) ID() string      { return SourceOpenStates }
func (c *OpenStatesClient) Available() bool { return c.cfg.APIKey != "" }

type openStatesBill struct {
	ID           string `json:"id"`
	Identifier   string `json:"identifier"`
	Title        string `json:"title"`
	Jurisdiction struct {
		Name string `json:"name"`
	} `json:"jurisdiction"`
	LatestActionDate        string `json:"latest_action_date"`
	LatestActionDescription string `json:"latest_action_description"`
	UpdatedAt               string `json:"updated_at"`
}

type openStatesPage struct {
	Results    []json.RawMessage `json:"results"`
	Pagination struct {
		Page     int `json:"page"`
		MaxPage  int `json:"max_page"`
		PerPage  int `json:"per_page"`
		TotalAll int `json:"total_items"`
	} `json:"pagination"`
}

func (c *OpenStatesClient) FetchSince(ctx context.Context, cursor Cursor) ([]bills.RawRecord, Cursor, error) {
	if !c.Available() {
		return nil, cursor, ErrUnavailable
	}

	page := 1
	if cursor.Token != "" {
		if p, err := strconv.Atoi(cursor.Token); err == nil && p > 0 {
			page = p
		}
	}

	headers := map[string]string{"X-API-KEY": c.cfg.APIKey}
	var out []bills.RawRecord
	newCursor := cursor
	maxSeen := cursor.LastFetch

	for fetched := 0; fetched < openStatesMaxPages; fetched++ {
		q := url.Values{}
		q.Set("jurisdiction", c.cfg.Jurisdiction)
		q.Set("sort", "updated_asc")
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(maxInt(c.cfg.PageSize, 20)))
		if !cursor.LastFetch.IsZero() {
			q.Set("updated_since", cursor.LastFetch.UTC().Format("2006-01-02"))
		}
		reqURL := fmt.Sprintf("%s/bills?%s", c.cfg.Endpoint, q.Encode())

		var pageResp openStatesPage
		if err := c.http.DoJSON(ctx, "GET", reqURL, headers, nil, &pageResp); err != nil {
			return nil, cursor, err
		}

		for _, raw := range pageResp.Results {
			var b openStatesBill
			if err := json.Unmarshal(raw, &b); err != nil || b.Identifier == "" {
				continue
			}
			actionDate := parseOpenStatesDate(b.LatestActionDate, b.UpdatedAt)
			jurisdiction := b.Jurisdiction.Name
			if jurisdiction == "" {
				jurisdiction = c.cfg.Jurisdiction
			}
			out = append(out, bills.RawRecord{
				Source:       SourceOpenStates,
				SourceBillID: b.ID,
				Jurisdiction: jurisdiction,
				BillNumber:   b.Identifier,
				Title:        b.Title,
				Status:       b.LatestActionDescription,
				LastAction:   actionDate,
				Payload:      raw,
			})
			if actionDate.After(maxSeen) {
				maxSeen = actionDate
			}
		}

		if pageResp.Pagination.Page >= pageResp.Pagination.MaxPage {
			newCursor.Token = ""
			newCursor.LastFetch = maxSeen
			return out, newCursor, nil
		}
		page = pageResp.Pagination.Page + 1
	}

	// Window not fully consumed: keep LastFetch where it was and resume from
	// the recorded page next poll.
	newCursor.Token = strconv.Itoa(page)
	return out, newCursor, nil
}

func parseOpenStatesDate(dates ...string) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	for _, d := range dates {
		if d == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func maxInt(a, def int) int {
	if a > 0 {
		return a
	}
	return def
}
