package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/assessor-platform/legistrack/internal/telemetry"
)

// Fingerprint derives the cache key for an analysis request. Two requests
// with the same bill content and the same normalized parameters share one
// cache entry regardless of which capability asked.
func Fingerprint(req AnalysisRequest, model string) string {
	h := sha256.New()
	fmt.Fprintf(h, "bill_analysis\x00%s\x00%s\x00%s\x00", req.BillKey, req.Status, model)
	fmt.Fprintf(h, "%s\x00%.2f\x00%s\x00", strings.ToLower(req.PropertyClass), req.PropertyValue, strings.ToLower(req.County))
	h.Write([]byte(req.BillTitle))
	h.Write([]byte{0})
	h.Write([]byte(req.BillText))
	return hex.EncodeToString(h.Sum(nil))
}

// Backend persists computed results across restarts.
type Backend interface {
	Load(ctx context.Context, fp string) (*Result, error)
	Store(ctx context.Context, fp string, res Result) error
}

// MemoryBackend keeps results in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Result
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Result)}
}

func (b *MemoryBackend) Load(ctx context.Context, fp string) (*Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if res, ok := b.entries[fp]; ok {
		return &res, nil
	}
	return nil, nil
}

func (b *MemoryBackend) Store(ctx context.Context, fp string, res Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[fp] = res
	return nil
}

const analysisKeyPrefix = "analysis:"

// RedisBackend persists results in Redis.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Load(ctx context.Context, fp string) (*Result, error) {
	val, err := b.client.Get(ctx, analysisKeyPrefix+fp).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load analysis: %w", err)
	}
	var res Result
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, nil
	}
	return &res, nil
}

func (b *RedisBackend) Store(ctx context.Context, fp string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, analysisKeyPrefix+fp, data, b.ttl).Err(); err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}
	return nil
}

// Cache deduplicates analysis computation by fingerprint. Concurrent
// requests for the same fingerprint share one in-flight compute; failures
// propagate to all waiters and are never stored.
type Cache struct {
	backend Backend
	group   singleflight.Group
	maxAge  time.Duration
	tel     *telemetry.Telemetry
	now     func() time.Time
}

func NewCache(backend Backend, maxAge time.Duration, tel *telemetry.Telemetry) *Cache {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Cache{backend: backend, maxAge: maxAge, tel: tel, now: time.Now}
}

// GetOrCompute returns the cached result for fp, or runs fn once across all
// concurrent callers and stores the outcome on success. A stale entry (older
// than maxAge) counts as a miss and is recomputed.
func (c *Cache) GetOrCompute(ctx context.Context, fp string, fn func(ctx context.Context) (Result, error)) (Result, bool, error) {
	if cached, err := c.backend.Load(ctx, fp); err == nil && cached != nil && !c.stale(*cached) {
		c.record("hit")
		return *cached, true, nil
	}

	v, err, shared := c.group.Do(fp, func() (any, error) {
		// Double check inside the flight: a concurrent caller may have just
		// stored the entry before we were queued.
		if cached, err := c.backend.Load(ctx, fp); err == nil && cached != nil && !c.stale(*cached) {
			return *cached, nil
		}
		res, err := fn(ctx)
		if err != nil {
			return Result{}, err
		}
		res.ComputedAt = c.now()
		if storeErr := c.backend.Store(ctx, fp, res); storeErr != nil {
			c.record("error")
		}
		return res, nil
	})
	if err != nil {
		c.record("error")
		return Result{}, false, err
	}
	if shared {
		c.record("shared")
	} else {
		c.record("miss")
	}
	return v.(Result), false, nil
}

func (c *Cache) stale(res Result) bool {
	if c.maxAge <= 0 {
		return false
	}
	return c.now().Sub(res.ComputedAt) > c.maxAge
}

func (c *Cache) record(outcome string) {
	if c.tel != nil {
		c.tel.RecordCache(outcome)
	}
}
