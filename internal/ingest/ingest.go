// Package ingest applies fetched source records to the bill store through
// the merge engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/assessor-platform/legistrack/internal/bills"
	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// BillStore is the slice of the store the pipeline needs.
type BillStore interface {
	GetByKey(ctx context.Context, key string) (*bills.Record, error)
	Upsert(ctx context.Context, rec bills.Record) error
}

// Report summarizes one batch. FullSuccess gates the cursor commit: any
// store error means the batch must be replayed.
type Report struct {
	Merged      int
	Dropped     int
	FullSuccess bool
}

// Pipeline merges raw records into stored bills. Writes to the same bill
// key are serialized with a keyed mutex so concurrent source polls cannot
// interleave read-merge-write cycles on one bill.
type Pipeline struct {
	engine *bills.Engine
	store  BillStore
	tel    *telemetry.Telemetry
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPipeline(engine *bills.Engine, store BillStore, tel *telemetry.Telemetry, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Pipeline{
		engine: engine,
		store:  store,
		tel:    tel,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Apply merges a batch of raw records from one source poll. Malformed
// records are dropped and counted, never fatal; a store failure aborts the
// batch and reports partial success so the caller keeps its cursor.
func (p *Pipeline) Apply(ctx context.Context, records []bills.RawRecord) (Report, error) {
	report := Report{FullSuccess: true}
	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			report.FullSuccess = false
			return report, err
		}
		if err := p.applyOne(ctx, raw); err != nil {
			var conflict *bills.MergeConflictError
			if errors.As(err, &conflict) {
				report.Dropped++
				p.logger.Printf("dropped record from %s: %v", raw.Source, conflict)
				continue
			}
			report.FullSuccess = false
			return report, fmt.Errorf("apply record %s/%s: %w", raw.Source, raw.SourceBillID, err)
		}
		report.Merged++
	}
	if p.tel != nil {
		p.tel.RecordMerge(report.Merged, report.Dropped)
	}
	return report, nil
}

func (p *Pipeline) applyOne(ctx context.Context, raw bills.RawRecord) error {
	key, err := p.engine.Key(raw)
	if err != nil {
		return err
	}

	lock := p.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := p.store.GetByKey(ctx, key)
	if err != nil && !errors.Is(err, bills.ErrNotFound) {
		return err
	}

	merged, err := p.engine.Merge(existing, raw)
	if err != nil {
		return err
	}
	return p.store.Upsert(ctx, *merged)
}

func (p *Pipeline) keyLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[key] = l
	return l
}
