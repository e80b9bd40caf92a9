package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/assessor-platform/legistrack/config"
	"github.com/assessor-platform/legistrack/internal/sources"
)

const cursorKeyPrefix = "cursor:"

// RedisStore persists cursors in Redis so a restart resumes polling where
// the previous process left off.
type RedisStore struct {
	client *redis.Client
}

// Conn opens and pings a Redis connection using the configured address.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, sourceID, queryKey string) (sources.Cursor, error) {
	val, err := s.client.Get(ctx, cursorKeyPrefix+sourceID+"/"+queryKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sources.Cursor{}, nil
		}
		return sources.Cursor{}, fmt.Errorf("get cursor: %w", err)
	}
	var cur sources.Cursor
	if err := json.Unmarshal([]byte(val), &cur); err != nil {
		// A corrupt cursor is recoverable: start the source from scratch.
		return sources.Cursor{}, nil
	}
	return cur, nil
}

func (s *RedisStore) Commit(ctx context.Context, sourceID, queryKey string, cur sources.Cursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, cursorKeyPrefix+sourceID+"/"+queryKey, data, 0).Err(); err != nil {
		return fmt.Errorf("commit cursor: %w", err)
	}
	return nil
}
