package bills

import (
	"encoding/json"
	"reflect"
	"sort"
	"testing"
	"time"
)

var testPriority = []string{"wa_legislature", "legiscan", "openstates", "local_docs"}

func newTestEngine() *Engine {
	return NewEngine(testPriority, []string{"wa_legislature"})
}

func mustMerge(t *testing.T, e *Engine, rec *Record, incoming RawRecord) *Record {
	t.Helper()
	out, err := e.Merge(rec, incoming)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	return out
}

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		jurisdiction, number, want string
	}{
		{"WA", "HB 1234", "wa:hb 1234"},
		{"wa", "hb  1234", "wa:hb 1234"},
		{" WA ", "  HB\t1234 ", "wa:hb 1234"},
		{"Washington", "SB 5000", "washington:sb 5000"},
	}
	for _, c := range cases {
		if got := NormalizeKey(c.jurisdiction, c.number); got != c.want {
			t.Fatalf("NormalizeKey(%q,%q) = %q, want %q", c.jurisdiction, c.number, got, c.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status string
		want   StatusClass
	}{
		{"Introduced", StatusIntroduced},
		{"Prefiled for introduction", StatusIntroduced},
		{"Referred to Committee on Finance", StatusActive},
		{"Second reading", StatusActive},
		{"Passed Legislature", StatusPassed},
		{"Signed by Governor", StatusPassed},
		{"Died in committee", StatusFailed},
		{"Vetoed", StatusFailed},
		{"", StatusUnknown},
		{"Something else entirely", StatusUnknown},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status); got != c.want {
			t.Fatalf("ClassifyStatus(%q) = %s, want %s", c.status, got, c.want)
		}
	}
}

// Two sources report the same bill with different statuses: the most recent
// last-action date wins and the source set is the union.
func TestMergeMostRecentStatusWins(t *testing.T) {
	e := newTestEngine()
	introduced := RawRecord{
		Source:       "openstates",
		SourceBillID: "ocd-bill/1",
		Jurisdiction: "WA",
		BillNumber:   "HB 1234",
		Title:        "Property tax levy limits",
		Status:       "Introduced",
		LastAction:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	passed := RawRecord{
		Source:       "legiscan",
		SourceBillID: "1718374",
		Jurisdiction: "WA",
		BillNumber:   "HB 1234",
		Status:       "Passed",
		LastAction:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	}

	rec := mustMerge(t, e, nil, introduced)
	rec = mustMerge(t, e, rec, passed)

	if rec.StatusClass != StatusPassed {
		t.Fatalf("expected passed, got %s", rec.StatusClass)
	}
	if !rec.LastAction.Equal(passed.LastAction) {
		t.Fatalf("expected last action %v, got %v", passed.LastAction, rec.LastAction)
	}
	got := append([]string(nil), rec.Sources...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"legiscan", "openstates"}) {
		t.Fatalf("expected both sources, got %v", rec.Sources)
	}
	if rec.Title != "Property tax levy limits" {
		t.Fatalf("expected title preserved from openstates, got %q", rec.Title)
	}
}

func TestMergeSameDateUsesPriorityOrder(t *testing.T) {
	e := newTestEngine()
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fromAggregator := RawRecord{
		Source: "openstates", Jurisdiction: "WA", BillNumber: "SB 5000",
		Status: "In committee", LastAction: date,
	}
	fromPrimary := RawRecord{
		Source: "legiscan", Jurisdiction: "WA", BillNumber: "SB 5000",
		Status: "Referred to Ways & Means", LastAction: date,
	}

	rec := mustMerge(t, e, nil, fromAggregator)
	rec = mustMerge(t, e, rec, fromPrimary)
	if rec.StatusSource != "legiscan" {
		t.Fatalf("expected higher-priority source to win tie, got %s", rec.StatusSource)
	}

	// Reverse order converges on the same winner.
	rec2 := mustMerge(t, e, nil, fromPrimary)
	rec2 = mustMerge(t, e, rec2, fromAggregator)
	if rec2.StatusSource != "legiscan" || rec2.Status != rec.Status {
		t.Fatalf("tie-break not order independent: %s vs %s", rec2.Status, rec.Status)
	}
}

// Sources missing from the priority list share the bottom rank; a same-date
// tie between two of them must still converge regardless of merge order.
func TestMergeUnlistedSourcesTieBreakDeterministically(t *testing.T) {
	e := newTestEngine()
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	fromBravo := RawRecord{
		Source: "bravo_feed", Jurisdiction: "WA", BillNumber: "SB 6001",
		Title: "bravo title", Status: "In committee", LastAction: date,
	}
	fromAlpha := RawRecord{
		Source: "alpha_feed", Jurisdiction: "WA", BillNumber: "SB 6001",
		Title: "alpha title", Status: "Referred to Ways & Means", LastAction: date,
	}

	rec := mustMerge(t, e, nil, fromBravo)
	rec = mustMerge(t, e, rec, fromAlpha)
	rec2 := mustMerge(t, e, nil, fromAlpha)
	rec2 = mustMerge(t, e, rec2, fromBravo)

	if rec.StatusSource != rec2.StatusSource || rec.Status != rec2.Status {
		t.Fatalf("tie-break order dependent: %s/%s vs %s/%s",
			rec.StatusSource, rec.Status, rec2.StatusSource, rec2.Status)
	}
	if rec.StatusSource != "alpha_feed" {
		t.Fatalf("expected lexicographic winner alpha_feed, got %s", rec.StatusSource)
	}
	if rec.Title != rec2.Title || rec.Title != "alpha title" {
		t.Fatalf("title tie-break diverged: %q vs %q", rec.Title, rec2.Title)
	}
}

func TestMergeAuthoritativeTitleWins(t *testing.T) {
	e := newTestEngine()
	rec := mustMerge(t, e, nil, RawRecord{
		Source: "legiscan", Jurisdiction: "WA", BillNumber: "HB 42",
		Title: "legiscan title", Status: "Introduced",
		LastAction: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	rec = mustMerge(t, e, rec, RawRecord{
		Source: "wa_legislature", Jurisdiction: "WA", BillNumber: "HB 42",
		Title: "Official short title", Status: "Introduced",
		LastAction: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if rec.Title != "Official short title" {
		t.Fatalf("expected authoritative title, got %q", rec.Title)
	}
	// A later non-authoritative sighting must not displace it.
	rec = mustMerge(t, e, rec, RawRecord{
		Source: "openstates", Jurisdiction: "WA", BillNumber: "HB 42",
		Title: "openstates title", Status: "In committee",
		LastAction: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if rec.Title != "Official short title" {
		t.Fatalf("authoritative title displaced: %q", rec.Title)
	}
}

func TestMergeConflictOnMalformedRecord(t *testing.T) {
	e := newTestEngine()
	_, err := e.Merge(nil, RawRecord{Source: "legiscan", Jurisdiction: "WA"})
	var conflict *MergeConflictError
	if err == nil {
		t.Fatalf("expected merge conflict")
	}
	if !asMergeConflict(err, &conflict) {
		t.Fatalf("expected MergeConflictError, got %T", err)
	}
}

func asMergeConflict(err error, target **MergeConflictError) bool {
	c, ok := err.(*MergeConflictError)
	if ok {
		*target = c
	}
	return ok
}

// Merging any permutation of the same set of sightings, with replays mixed
// in, converges on identical date-governed fields.
func TestMergeIdempotentAndCommutative(t *testing.T) {
	e := newTestEngine()
	records := []RawRecord{
		{Source: "openstates", Jurisdiction: "WA", BillNumber: "HB 1234", Title: "os title",
			Status: "Introduced", LastAction: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Source: "legiscan", Jurisdiction: "WA", BillNumber: "HB 1234", Title: "ls title",
			Status: "In committee", LastAction: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)},
		{Source: "wa_legislature", Jurisdiction: "WA", BillNumber: "HB 1234", Title: "official title",
			Status: "Passed Legislature", LastAction: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			Payload: json.RawMessage(`{"k":"v"}`)},
		{Source: "local_docs", Jurisdiction: "WA", BillNumber: "HB 1234",
			Status: "Passed", LastAction: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}

	type outcome struct {
		status, statusSource, title string
		lastAction                  time.Time
		sources                     []string
	}
	var want *outcome

	for _, perm := range permutations(len(records)) {
		var rec *Record
		for _, i := range perm {
			rec = mustMerge(t, e, rec, records[i])
			// replay the same sighting immediately; must be a no-op
			rec = mustMerge(t, e, rec, records[i])
		}
		srcs := append([]string(nil), rec.Sources...)
		sort.Strings(srcs)
		got := &outcome{rec.Status, rec.StatusSource, rec.Title, rec.LastAction, srcs}
		if want == nil {
			want = got
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("permutation %v diverged:\n got %+v\nwant %+v", perm, got, want)
		}
	}

	if want.status != "Passed Legislature" || want.statusSource != "wa_legislature" {
		t.Fatalf("expected wa_legislature to win the same-date tie, got %q from %s", want.status, want.statusSource)
	}
	if want.title != "official title" {
		t.Fatalf("expected authoritative title, got %q", want.title)
	}
}

func permutations(n int) [][]int {
	var out [][]int
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	var generate func(k int)
	generate = func(k int) {
		if k == 1 {
			out = append(out, append([]int(nil), perm...))
			return
		}
		for i := 0; i < k; i++ {
			generate(k - 1)
			if k%2 == 0 {
				perm[i], perm[k-1] = perm[k-1], perm[i]
			} else {
				perm[0], perm[k-1] = perm[k-1], perm[0]
			}
		}
	}
	generate(n)
	return out
}
