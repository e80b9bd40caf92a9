package bills

import (
	"encoding/json"
	"fmt"
	"time"
)

// MergeConflictError marks an incoming record that cannot be reconciled into
// the canonical set. Callers log and drop the record; the batch continues.
type MergeConflictError struct {
	Source string
	Reason string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict from %s: %s", e.Source, e.Reason)
}

// Engine merges heterogeneous per-source records into canonical bill
// records. Priority is the explicit, configured tie-break order (index 0 is
// highest); authoritative marks sources whose title/text are preferred for
// their jurisdiction.
type Engine struct {
	rank          map[string]int
	authoritative map[string]bool
}

// NewEngine builds a merge engine from the configured source priority list
// and the set of authoritative sources.
func NewEngine(priority []string, authoritative []string) *Engine {
	e := &Engine{
		rank:          make(map[string]int, len(priority)),
		authoritative: make(map[string]bool, len(authoritative)),
	}
	for i, s := range priority {
		e.rank[s] = i
	}
	for _, s := range authoritative {
		e.authoritative[s] = true
	}
	return e
}

// sourceRank returns the priority rank of a source; sources absent from the
// configured list sort after every listed one.
func (e *Engine) sourceRank(source string) int {
	if r, ok := e.rank[source]; ok {
		return r
	}
	return len(e.rank)
}

// Key validates an incoming record and derives its canonical bill key.
func (e *Engine) Key(incoming RawRecord) (string, error) {
	if incoming.Source == "" {
		return "", &MergeConflictError{Source: incoming.Source, Reason: "missing source"}
	}
	if incoming.Jurisdiction == "" || incoming.BillNumber == "" {
		return "", &MergeConflictError{Source: incoming.Source, Reason: "missing jurisdiction or bill number"}
	}
	return NormalizeKey(incoming.Jurisdiction, incoming.BillNumber), nil
}

// Merge folds one incoming sighting into an existing canonical record. A nil
// existing record creates a new one. The operation is idempotent and
// commutative: replaying the same record, in any order relative to other
// records for the same key, converges on the same field values.
func (e *Engine) Merge(existing *Record, incoming RawRecord) (*Record, error) {
	key, err := e.Key(incoming)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := existing
	if rec == nil {
		rec = &Record{
			BillKey:      key,
			Jurisdiction: collapse(incoming.Jurisdiction),
			BillNumber:   collapse(incoming.BillNumber),
			FirstSeen:    now,
		}
	} else if rec.BillKey != key {
		return nil, &MergeConflictError{Source: incoming.Source, Reason: fmt.Sprintf("key mismatch: record %s, incoming %s", rec.BillKey, key)}
	}

	// Status and last-action date: most recent date wins; same date falls
	// back to the configured priority order.
	if e.statusWins(rec, incoming) {
		rec.Status = incoming.Status
		rec.StatusClass = ClassifyStatus(incoming.Status)
		rec.LastAction = incoming.LastAction
		rec.StatusSource = incoming.Source
	}

	// Title and text: authoritative source wins, then priority order, then
	// any non-empty value.
	if incoming.Title != "" && e.textWins(rec.TitleSource, incoming.Source) {
		rec.Title = incoming.Title
		rec.TitleSource = incoming.Source
	}
	if incoming.Summary != "" && rec.Summary == "" {
		rec.Summary = incoming.Summary
	}
	if incoming.FullText != "" && e.textWins(rec.TextSource, incoming.Source) {
		rec.FullText = incoming.FullText
		rec.TextSource = incoming.Source
	}

	// Contributing sources only ever grow.
	if !rec.HasSource(incoming.Source) {
		rec.Sources = append(rec.Sources, incoming.Source)
	}
	if incoming.SourceBillID != "" {
		if rec.SourceIDs == nil {
			rec.SourceIDs = make(map[string]string)
		}
		rec.SourceIDs[incoming.Source] = incoming.SourceBillID
	}
	if len(incoming.Payload) > 0 {
		if rec.RawPayloads == nil {
			rec.RawPayloads = make(map[string]json.RawMessage)
		}
		rec.RawPayloads[incoming.Source] = incoming.Payload
	}

	rec.UpdatedAt = now
	return rec, nil
}

// statusWins decides whether the incoming status replaces the current one.
func (e *Engine) statusWins(rec *Record, incoming RawRecord) bool {
	if rec.StatusSource == "" {
		return true
	}
	if incoming.LastAction.After(rec.LastAction) {
		return true
	}
	if incoming.LastAction.Before(rec.LastAction) {
		return false
	}
	incomingRank := e.sourceRank(incoming.Source)
	currentRank := e.sourceRank(rec.StatusSource)
	if incomingRank != currentRank {
		return incomingRank < currentRank
	}
	// Same source replaying the same action date: taking the incoming value
	// keeps replay idempotent.
	if incoming.Source == rec.StatusSource {
		return true
	}
	// Sources missing from the priority list share a rank; the
	// lexicographically smaller ID wins so merge order cannot matter.
	return incoming.Source < rec.StatusSource
}

// textWins decides whether a non-empty incoming title/text replaces the
// currently recorded one, based on its originating source.
func (e *Engine) textWins(currentSource, incomingSource string) bool {
	if currentSource == "" {
		return true
	}
	if currentSource == incomingSource {
		return true
	}
	if e.authoritative[incomingSource] && !e.authoritative[currentSource] {
		return true
	}
	if e.authoritative[currentSource] && !e.authoritative[incomingSource] {
		return false
	}
	incomingRank := e.sourceRank(incomingSource)
	currentRank := e.sourceRank(currentSource)
	if incomingRank != currentRank {
		return incomingRank < currentRank
	}
	return incomingSource < currentSource
}
