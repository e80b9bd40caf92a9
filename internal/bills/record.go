package bills

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when no record exists for a bill key.
var ErrNotFound = errors.New("bill not found")

// StatusClass is the normalized lifecycle class of a bill. Free-form source
// statuses are folded into this small set; the raw string is preserved on
// the record for provenance.
type StatusClass string

const (
	StatusIntroduced StatusClass = "introduced"
	StatusActive     StatusClass = "active"
	StatusPassed     StatusClass = "passed"
	StatusFailed     StatusClass = "failed"
	StatusUnknown    StatusClass = "unknown"
)

// RawRecord is one bill sighting as reported by a single source, before
// merging into the canonical record set.
type RawRecord struct {
	Source       string          `json:"source"`
	SourceBillID string          `json:"source_bill_id"`
	Jurisdiction string          `json:"jurisdiction"`
	BillNumber   string          `json:"bill_number"`
	Title        string          `json:"title"`
	Summary      string          `json:"summary,omitempty"`
	FullText     string          `json:"full_text,omitempty"`
	Status       string          `json:"status"`
	LastAction   time.Time       `json:"last_action"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Record is the canonical representation of one piece of legislation merged
// across sources. Records are created on first sighting and updated in
// place; this layer never deletes them.
type Record struct {
	BillKey      string      `json:"bill_key"`
	Jurisdiction string      `json:"jurisdiction"`
	BillNumber   string      `json:"bill_number"`
	Title        string      `json:"title"`
	Summary      string      `json:"summary,omitempty"`
	FullText     string      `json:"full_text,omitempty"`
	Status       string      `json:"status"`
	StatusClass  StatusClass `json:"status_class"`
	LastAction   time.Time   `json:"last_action"`

	// Sources is the union of all sources that have reported this bill.
	Sources []string `json:"sources"`

	// SourceIDs maps source name to that source's bill identifier.
	SourceIDs map[string]string `json:"source_ids,omitempty"`

	// RawPayloads keeps the latest raw payload per source for debugging.
	RawPayloads map[string]json.RawMessage `json:"raw_payloads,omitempty"`

	// Per-field provenance used by the merge policy.
	StatusSource string `json:"status_source,omitempty"`
	TitleSource  string `json:"title_source,omitempty"`
	TextSource   string `json:"text_source,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSource reports whether source already contributed to the record.
func (r *Record) HasSource(source string) bool {
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// NormalizeKey derives the canonical bill key from a jurisdiction and bill
// number: case-insensitive, whitespace collapsed.
func NormalizeKey(jurisdiction, billNumber string) string {
	return collapse(jurisdiction) + ":" + collapse(billNumber)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ClassifyStatus folds a free-form source status string into a StatusClass.
func ClassifyStatus(status string) StatusClass {
	s := strings.ToLower(status)
	switch {
	case s == "":
		return StatusUnknown
	case containsAny(s, "passed", "enacted", "signed", "adopted", "chaptered", "became law"):
		return StatusPassed
	case containsAny(s, "failed", "dead", "died", "vetoed", "rejected", "withdrawn"):
		return StatusFailed
	case containsAny(s, "introduced", "prefiled", "first reading", "filed"):
		return StatusIntroduced
	case containsAny(s, "committee", "reading", "hearing", "engrossed", "amended", "referred", "floor", "active", "scheduled"):
		return StatusActive
	default:
		return StatusUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
