package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/bills"
)

// SourceWALegislature is the registry name of the WA Legislature feed client.
const SourceWALegislature = "wa_legislature"

// WALegislatureClient consumes the state legislature's RSS feed of bill
// activity. It needs no credential; it is the authoritative source for WA
// bill titles and text.
type WALegislatureClient struct {
	cfg  config.WALegislatureConfig
	http *HTTPClient
}

func NewWALegislatureClient(cfg config.WALegislatureConfig, http *HTTPClient) *WALegislatureClient {
	if http == nil {
		http = NewHTTPClient(0, 2, 0)
	}
	return &WALegislatureClient{cfg: cfg, http: http}
}

func (c *WALegislatureClient) ID() string      { return SourceWALegislature }
func (c *WALegislatureClient) Available() bool { return c.cfg.FeedURL != "" }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Feed titles look like "HB 1234 - Concerning property tax levy limits".
var feedTitleRe = regexp.MustCompile(`(?i)^\s*([A-Z]{2,4}\s*\d{3,5})\s*[-–]\s*(.+)$`)

func (c *WALegislatureClient) FetchSince(ctx context.Context, cursor Cursor) ([]bills.RawRecord, Cursor, error) {
	if !c.Available() {
		return nil, cursor, ErrUnavailable
	}

	body, err := c.http.GetBody(ctx, c.cfg.FeedURL, nil)
	if err != nil {
		return nil, cursor, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, cursor, &PermanentError{Op: "parse feed", Err: err}
	}

	var out []bills.RawRecord
	newCursor := cursor
	for _, item := range feed.Channel.Items {
		m := feedTitleRe.FindStringSubmatch(item.Title)
		if m == nil {
			continue
		}
		published := parseFeedDate(item.PubDate)
		if !cursor.LastFetch.IsZero() && !published.After(cursor.LastFetch) {
			continue
		}
		payload, _ := json.Marshal(item)
		out = append(out, bills.RawRecord{
			Source:       SourceWALegislature,
			SourceBillID: strings.ToUpper(strings.Join(strings.Fields(m[1]), " ")),
			Jurisdiction: "WA",
			BillNumber:   m[1],
			Title:        strings.TrimSpace(m[2]),
			Status:       strings.TrimSpace(item.Description),
			LastAction:   published,
			Payload:      payload,
		})
		if published.After(newCursor.LastFetch) {
			newCursor.LastFetch = published
		}
	}
	return out, newCursor, nil
}

// BillText fetches and extracts the full bill text from a legislature bill
// page. Used for lazy text loading when a merged record carries no text.
func (c *WALegislatureClient) BillText(ctx context.Context, pageURL string) (string, error) {
	body, err := c.http.GetBody(ctx, pageURL, nil)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &PermanentError{Op: "parse bill page", Err: err}
	}

	// Bill pages render the text in a single content division; fall back to
	// the whole body when the expected container is absent.
	for _, selector := range []string{"#contentWrapper", "#content", ".billText", "body"} {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(sel.First().Text())
		if text != "" {
			return collapseBlankLines(text), nil
		}
	}
	return "", fmt.Errorf("no text content found at %s", pageURL)
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func parseFeedDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
