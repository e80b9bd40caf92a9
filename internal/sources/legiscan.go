package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/bills"
)

// SourceLegiScan is the registry name of the LegiScan client.
const SourceLegiScan = "legiscan"

// LegiScanClient fetches the per-state master list from the LegiScan API.
type LegiScanClient struct {
	cfg  config.LegiScanConfig
	http *HTTPClient
}

func NewLegiScanClient(cfg config.LegiScanConfig, http *HTTPClient) *LegiScanClient {
	if http == nil {
		http = NewHTTPClient(0, 2, 0)
	}
	return &LegiScanClient{cfg: cfg, http: http}
}

func (c *LegiScanClient) ID() string      { return SourceLegiScan }
func (c *LegiScanClient) Available() bool { return c.cfg.APIKey != "" }

// LegiScan bill status codes from the masterlist payload.
var legiscanStatus = map[int]string{
	1: "Introduced",
	2: "Engrossed",
	3: "Enrolled",
	4: "Passed",
	5: "Vetoed",
	6: "Failed",
}

type legiscanBill struct {
	BillID         int    `json:"bill_id"`
	Number         string `json:"number"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         int    `json:"status"`
	StatusDate     string `json:"status_date"`
	LastAction     string `json:"last_action"`
	LastActionDate string `json:"last_action_date"`
	ChangeHash     string `json:"change_hash"`
}

func (c *LegiScanClient) FetchSince(ctx context.Context, cursor Cursor) ([]bills.RawRecord, Cursor, error) {
	if !c.Available() {
		return nil, cursor, ErrUnavailable
	}

	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("op", "getMasterList")
	q.Set("state", c.cfg.State)
	reqURL := c.cfg.Endpoint + "?" + q.Encode()

	// The masterlist is a JSON object with numeric keys per bill plus a
	// "session" entry; decode loosely and skip non-bill entries.
	var resp struct {
		Status     string                     `json:"status"`
		MasterList map[string]json.RawMessage `json:"masterlist"`
	}
	if err := c.http.DoJSON(ctx, "GET", reqURL, nil, nil, &resp); err != nil {
		return nil, cursor, err
	}
	if resp.Status != "OK" {
		return nil, cursor, &PermanentError{Op: "legiscan getMasterList", Err: fmt.Errorf("api status %q", resp.Status)}
	}

	var out []bills.RawRecord
	newCursor := cursor
	for key, raw := range resp.MasterList {
		if key == "session" {
			continue
		}
		var b legiscanBill
		if err := json.Unmarshal(raw, &b); err != nil || b.Number == "" {
			continue
		}
		actionDate := parseLegiScanDate(b.LastActionDate, b.StatusDate)
		if !cursor.LastFetch.IsZero() && !actionDate.After(cursor.LastFetch) {
			continue
		}
		status := legiscanStatus[b.Status]
		if b.LastAction != "" {
			status = b.LastAction
		}
		out = append(out, bills.RawRecord{
			Source:       SourceLegiScan,
			SourceBillID: fmt.Sprintf("%d", b.BillID),
			Jurisdiction: c.cfg.State,
			BillNumber:   b.Number,
			Title:        b.Title,
			Summary:      b.Description,
			Status:       status,
			LastAction:   actionDate,
			Payload:      raw,
		})
		if actionDate.After(newCursor.LastFetch) {
			newCursor.LastFetch = actionDate
		}
	}
	return out, newCursor, nil
}

func parseLegiScanDate(dates ...string) time.Time {
	for _, d := range dates {
		if d == "" {
			continue
		}
		if t, err := time.Parse("2006-01-02", d); err == nil {
			return t
		}
	}
	return time.Time{}
}
