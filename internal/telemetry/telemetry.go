package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/assessor-platform/legistrack/config"
)

// Telemetry tracks dispatch, source and analysis-cache activity. Counters are
// exported to Prometheus; the mutex-guarded maps back the status snapshot
// consumed by health endpoints.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics *Metrics

	dispatchTotal  *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec
	sourceFetches  *prometheus.CounterVec
	cacheOutcomes  *prometheus.CounterVec
}

// Metrics holds per-capability and per-source counters for status reporting.
type Metrics struct {
	DispatchInvocations map[string]int64
	DispatchErrors      map[string]int64

	SourceFetches  map[string]int64
	SourceFailures map[string]int64
	SourceRecords  map[string]int64

	CacheHits    int64
	CacheMisses  int64
	CacheShared  int64
	CacheErrors  int64
	MergedBills  int64
	DroppedBills int64
}

// NewTelemetry creates a telemetry instance and registers its collectors.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			DispatchInvocations: make(map[string]int64),
			DispatchErrors:      make(map[string]int64),
			SourceFetches:       make(map[string]int64),
			SourceFailures:      make(map[string]int64),
			SourceRecords:       make(map[string]int64),
		},
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legistrack_dispatch_total",
			Help: "Requests dispatched through the message router, per capability.",
		}, []string{"capability"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legistrack_dispatch_errors_total",
			Help: "Failed dispatches per capability and failure kind.",
		}, []string{"capability", "kind"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "legistrack_dispatch_duration_seconds",
			Help:    "Handler execution time per capability.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legistrack_source_fetches_total",
			Help: "Source fetch attempts per source and outcome.",
		}, []string{"source", "outcome"}),
		cacheOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legistrack_analysis_cache_total",
			Help: "Analysis cache lookups by outcome.",
		}, []string{"outcome"}),
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startPeriodicLogs()
	}
	return t
}

// Register attaches the prometheus collectors to the given registerer. It is
// called once at wiring time; tests constructing throwaway instances skip it.
func (t *Telemetry) Register(reg prometheus.Registerer) {
	reg.MustRegister(t.dispatchTotal, t.dispatchErrors, t.dispatchTime, t.sourceFetches, t.cacheOutcomes)
}

// RecordDispatch records one routed request.
func (t *Telemetry) RecordDispatch(capability string, elapsed time.Duration, failureKind string) {
	if !t.config.Enabled {
		return
	}
	t.dispatchTotal.WithLabelValues(capability).Inc()
	t.dispatchTime.WithLabelValues(capability).Observe(elapsed.Seconds())
	if failureKind != "" {
		t.dispatchErrors.WithLabelValues(capability, failureKind).Inc()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.DispatchInvocations[capability]++
	if failureKind != "" {
		t.metrics.DispatchErrors[capability]++
	}
}

// RecordSourceFetch records the outcome of one source fetch attempt.
// Outcome is one of success, transient, permanent, unavailable.
func (t *Telemetry) RecordSourceFetch(source, outcome string, records int) {
	if !t.config.Enabled {
		return
	}
	t.sourceFetches.WithLabelValues(source, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.SourceFetches[source]++
	if outcome != "success" {
		t.metrics.SourceFailures[source]++
	}
	t.metrics.SourceRecords[source] += int64(records)
}

// RecordCache records an analysis-cache lookup outcome:
// hit, miss, shared (joined an in-flight computation) or error.
func (t *Telemetry) RecordCache(outcome string) {
	if !t.config.Enabled {
		return
	}
	t.cacheOutcomes.WithLabelValues(outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	switch outcome {
	case "hit":
		t.metrics.CacheHits++
	case "miss":
		t.metrics.CacheMisses++
	case "shared":
		t.metrics.CacheShared++
	case "error":
		t.metrics.CacheErrors++
	}
}

// RecordMerge records merged and dropped record counts from one ingest batch.
func (t *Telemetry) RecordMerge(merged, dropped int) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.MergedBills += int64(merged)
	t.metrics.DroppedBills += int64(dropped)
}

// GetMetrics returns a copy of the current counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.DispatchInvocations = make(map[string]int64, len(t.metrics.DispatchInvocations))
	metrics.DispatchErrors = make(map[string]int64, len(t.metrics.DispatchErrors))
	metrics.SourceFetches = make(map[string]int64, len(t.metrics.SourceFetches))
	metrics.SourceFailures = make(map[string]int64, len(t.metrics.SourceFailures))
	metrics.SourceRecords = make(map[string]int64, len(t.metrics.SourceRecords))
	for k, v := range t.metrics.DispatchInvocations {
		metrics.DispatchInvocations[k] = v
	}
	for k, v := range t.metrics.DispatchErrors {
		metrics.DispatchErrors[k] = v
	}
	for k, v := range t.metrics.SourceFetches {
		metrics.SourceFetches[k] = v
	}
	for k, v := range t.metrics.SourceFailures {
		metrics.SourceFailures[k] = v
	}
	for k, v := range t.metrics.SourceRecords {
		metrics.SourceRecords[k] = v
	}
	return metrics
}

func (t *Telemetry) startPeriodicLogs() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		var dispatches, errors int64
		for _, v := range m.DispatchInvocations {
			dispatches += v
		}
		for _, v := range m.DispatchErrors {
			errors += v
		}
		t.logger.Printf("Snapshot: dispatches=%d errors=%d cache hit/miss/shared=%d/%d/%d merged=%d dropped=%d",
			dispatches, errors, m.CacheHits, m.CacheMisses, m.CacheShared, m.MergedBills, m.DroppedBills)
	}
}
