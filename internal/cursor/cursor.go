// Package cursor persists per-source fetch positions. A cursor is committed
// only after a poll cycle fully succeeds, so a crash or partial failure
// replays the window into the idempotent merge instead of skipping it.
package cursor

import (
	"context"
	"sync"

	"github.com/assessor-platform/legistrack/internal/sources"
)

// Store reads and writes the fetch cursor for a source and query. The query
// key separates independent polling streams of one source (for example two
// jurisdictions on the same API).
type Store interface {
	Get(ctx context.Context, sourceID, queryKey string) (sources.Cursor, error)
	Commit(ctx context.Context, sourceID, queryKey string, cur sources.Cursor) error
}

// MemoryStore keeps cursors in process memory. Used in tests and when no
// Redis is configured; cursors reset on restart, which is safe because the
// merge is idempotent.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]sources.Cursor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]sources.Cursor)}
}

func (s *MemoryStore) Get(ctx context.Context, sourceID, queryKey string) (sources.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[sourceID+"/"+queryKey], nil
}

func (s *MemoryStore) Commit(ctx context.Context, sourceID, queryKey string, cur sources.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[sourceID+"/"+queryKey] = cur
	return nil
}
