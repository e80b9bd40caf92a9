// Package scheduler drives periodic source polling. Each source moves
// through a small state machine: Idle, Polling, BackingOff after transient
// failures, Suspended after permanent ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"golang.org/x/sync/singleflight"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/cursor"
	"github.com/assessor-platform/legistrack/internal/ingest"
	"github.com/assessor-platform/legistrack/internal/sources"
	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// ErrUnknownSource marks a trigger for a source that was never registered.
var ErrUnknownSource = errors.New("unknown source")

type State string

const (
	StateIdle       State = "idle"
	StatePolling    State = "polling"
	StateBackingOff State = "backing_off"
	StateSuspended  State = "suspended"
)

// PollReport summarizes one completed poll of a source.
type PollReport struct {
	Source    string        `json:"source"`
	Records   int           `json:"records"`
	Merged    int           `json:"merged"`
	Dropped   int           `json:"dropped"`
	Committed bool          `json:"cursor_committed"`
	Elapsed   time.Duration `json:"-"`
}

// SourceStatus is a snapshot of one source's scheduling state.
type SourceStatus struct {
	Source    string    `json:"source"`
	State     State     `json:"state"`
	Available bool      `json:"available"`
	LastPoll  time.Time `json:"last_poll,omitempty"`
	Failures  int       `json:"failures,omitempty"`
	NextRetry time.Time `json:"next_retry,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type sourceEntry struct {
	client   sources.Client
	schedule string
	queryKey string

	mu        sync.Mutex
	state     State
	lastPoll  time.Time
	failures  int
	nextRetry time.Time
	lastError string
}

// Scheduler polls registered sources on their cron schedules, feeds fetched
// records through the ingest pipeline, and commits cursors only after fully
// successful cycles.
type Scheduler struct {
	cfg      config.SchedulerConfig
	pipeline *ingest.Pipeline
	cursors  cursor.Store
	tel      *telemetry.Telemetry
	logger   *log.Logger

	mu      sync.Mutex
	entries map[string]*sourceEntry
	order   []string

	flight singleflight.Group
	sem    chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

func New(cfg config.SchedulerConfig, pipeline *ingest.Pipeline, cursors cursor.Store, tel *telemetry.Telemetry, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	maxConc := cfg.MaxConcurrentFetches
	if maxConc <= 0 {
		maxConc = 2
	}
	return &Scheduler{
		cfg:      cfg,
		pipeline: pipeline,
		cursors:  cursors,
		tel:      tel,
		logger:   logger,
		entries:  make(map[string]*sourceEntry),
		sem:      make(chan struct{}, maxConc),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a source with its cron schedule. The query key scopes the
// cursor, so one source polled for two jurisdictions keeps two cursors.
func (s *Scheduler) Register(client sources.Client, schedule, queryKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := client.ID()
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = &sourceEntry{
		client:   client,
		schedule: schedule,
		queryKey: queryKey,
		state:    StateIdle,
	}
}

// Start runs the tick loop until Stop is called.
func (s *Scheduler) Start() {
	tick := s.cfg.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick() {
	now := time.Now()
	for _, entry := range s.snapshotEntries() {
		if !s.due(entry, now) {
			continue
		}
		entry := entry
		go func() {
			if _, err := s.pollShared(context.Background(), entry); err != nil {
				s.logger.Printf("poll %s: %v", entry.client.ID(), err)
			}
		}()
	}
}

func (s *Scheduler) snapshotEntries() []*sourceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sourceEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

func (s *Scheduler) due(e *sourceEntry, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StatePolling, StateSuspended:
		return false
	}
	if !e.client.Available() {
		return false
	}
	if e.state == StateBackingOff {
		return !now.Before(e.nextRetry)
	}
	return scheduleDue(e.schedule, e.lastPoll, now)
}

// scheduleDue supports "@hourly", "@daily", and 5-field cron expressions.
// Invalid expressions fall back to daily.
func scheduleDue(spec string, last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	switch spec {
	case "@hourly":
		return now.Sub(last) >= time.Hour
	case "@daily", "":
		return now.Sub(last) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(spec)
		if err != nil {
			return now.Sub(last) >= 24*time.Hour
		}
		return !expr.Next(last).After(now)
	}
}

// Trigger polls a source immediately. A trigger during an in-flight poll
// joins that poll rather than starting a second one. Triggering a suspended
// source clears the suspension.
func (s *Scheduler) Trigger(ctx context.Context, sourceID string) (PollReport, error) {
	s.mu.Lock()
	entry, ok := s.entries[sourceID]
	s.mu.Unlock()
	if !ok {
		return PollReport{}, fmt.Errorf("%w: %q", ErrUnknownSource, sourceID)
	}

	entry.mu.Lock()
	if entry.state == StateSuspended {
		entry.state = StateIdle
		entry.failures = 0
		s.logger.Printf("source %s unsuspended by manual trigger", sourceID)
	}
	entry.mu.Unlock()

	return s.pollShared(ctx, entry)
}

func (s *Scheduler) pollShared(ctx context.Context, entry *sourceEntry) (PollReport, error) {
	v, err, _ := s.flight.Do(entry.client.ID(), func() (any, error) {
		return s.poll(ctx, entry)
	})
	if err != nil {
		return PollReport{}, err
	}
	return v.(PollReport), nil
}

func (s *Scheduler) poll(ctx context.Context, entry *sourceEntry) (PollReport, error) {
	id := entry.client.ID()
	report := PollReport{Source: id}

	if !entry.client.Available() {
		if s.tel != nil {
			s.tel.RecordSourceFetch(id, "unavailable", 0)
		}
		return report, sources.ErrUnavailable
	}

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	entry.mu.Lock()
	entry.state = StatePolling
	entry.mu.Unlock()

	start := time.Now()
	cur, err := s.cursors.Get(ctx, id, entry.queryKey)
	if err != nil {
		s.finishPoll(entry, start, err, true)
		return report, err
	}

	records, newCur, err := entry.client.FetchSince(ctx, cur)
	if err != nil {
		transient := !sources.IsPermanent(err)
		s.finishPoll(entry, start, err, transient)
		if s.tel != nil {
			outcome := "transient"
			if !transient {
				outcome = "permanent"
			}
			s.tel.RecordSourceFetch(id, outcome, 0)
		}
		return report, err
	}
	report.Records = len(records)

	ingestReport, err := s.pipeline.Apply(ctx, records)
	report.Merged = ingestReport.Merged
	report.Dropped = ingestReport.Dropped
	if err != nil {
		// Store failures are retried; the cursor stays put so the window
		// replays into the idempotent merge.
		s.finishPoll(entry, start, err, true)
		if s.tel != nil {
			s.tel.RecordSourceFetch(id, "transient", report.Records)
		}
		return report, err
	}

	if ingestReport.FullSuccess {
		if err := s.cursors.Commit(ctx, id, entry.queryKey, newCur); err != nil {
			s.finishPoll(entry, start, err, true)
			return report, err
		}
		report.Committed = true
	}

	s.finishPoll(entry, start, nil, false)
	report.Elapsed = time.Since(start)
	if s.tel != nil {
		s.tel.RecordSourceFetch(id, "success", report.Records)
	}
	s.logger.Printf("polled %s: %d records, %d merged, %d dropped (%.2fs)",
		id, report.Records, report.Merged, report.Dropped, report.Elapsed.Seconds())
	return report, nil
}

func (s *Scheduler) finishPoll(entry *sourceEntry, start time.Time, err error, transient bool) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastPoll = start
	if err == nil {
		entry.state = StateIdle
		entry.failures = 0
		entry.lastError = ""
		entry.nextRetry = time.Time{}
		return
	}
	entry.lastError = err.Error()
	if !transient {
		entry.state = StateSuspended
		s.logger.Printf("source %s suspended: %v", entry.client.ID(), err)
		return
	}
	entry.failures++
	entry.state = StateBackingOff
	entry.nextRetry = time.Now().Add(s.backoff(entry.failures))
}

// backoff is base*2^(n-1) capped, with up to 20% random jitter.
func (s *Scheduler) backoff(failures int) time.Duration {
	base := s.cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	limit := s.cfg.BackoffCap
	if limit <= 0 {
		limit = 30 * time.Minute
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit {
			d = limit
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if d+jitter > limit {
		return limit
	}
	return d + jitter
}

// Status reports every registered source in registration order.
func (s *Scheduler) Status() []SourceStatus {
	entries := s.snapshotEntries()
	out := make([]SourceStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, SourceStatus{
			Source:    e.client.ID(),
			State:     e.state,
			Available: e.client.Available(),
			LastPoll:  e.lastPoll,
			Failures:  e.failures,
			NextRetry: e.nextRetry,
			LastError: e.lastError,
		})
		e.mu.Unlock()
	}
	return out
}
