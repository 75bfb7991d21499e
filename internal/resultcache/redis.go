package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces result cache keys.
const DefaultRedisPrefix = "nutrirag:results"

const scanBatch = 500

// RedisCache shares results between processes. Each query is one string key holding
// the JSON-encoded matches.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisCache wraps client. Keys are "<prefix>:<fingerprint>".
func NewRedisCache(client *redis.Client, prefix string, logger *zap.Logger) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":" + k
}

func (c *RedisCache) Lookup(ctx context.Context, key string) ([]models.Match, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached result: %w", err)
	}
	var matches []models.Match
	if err := json.Unmarshal(raw, &matches); err != nil {
		c.logger.Warn("dropping undecodable cached result", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, c.key(key)).Err()
		return nil, false, nil
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return matches, true, nil
}

func (c *RedisCache) Store(ctx context.Context, key string, matches []models.Match) error {
	if matches == nil {
		matches = []models.Match{}
	}
	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix with SCAN + DEL.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("failed to scan result cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to clear result cache: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) Len(ctx context.Context) (int, error) {
	var cursor uint64
	n := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan result cache: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
