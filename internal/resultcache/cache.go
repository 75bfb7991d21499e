// Package resultcache memoizes ranked retrieval results by query fingerprint.
//
// Entries have no TTL. The retrieval engine clears the whole cache after every index
// mutation, so a cached result is never older than the last write.
package resultcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/nutrirag/internal/models"
	"github.com/hyperjump/nutrirag/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FileName is the result cache file name inside the cache directory.
const FileName = "result_cache.json"

// Cache maps a query fingerprint to the matches that query produced.
type Cache interface {
	Lookup(ctx context.Context, key string) ([]models.Match, bool, error)
	Store(ctx context.Context, key string, matches []models.Match) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// Backend names accepted by New.
const (
	BackendAuto   = "auto"
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Path is the file backend's location.
	Path string
	// Capacity bounds the memory backend.
	Capacity int
	// RedisURL and RedisPrefix configure the redis backend.
	RedisURL    string
	RedisPrefix string
}

// New builds the configured backend. "auto" uses redis when a Redis URL is set and the
// server answers PING, and the file backend otherwise.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendFile:
		return NewFileCache(cfg.Path, logger), nil
	case BackendMemory:
		return NewMemoryCache(cfg.Capacity)
	case BackendRedis:
		client, err := dialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisCache(client, cfg.RedisPrefix, logger), nil
	case BackendAuto:
		if cfg.RedisURL != "" {
			client, err := dialRedis(ctx, cfg.RedisURL)
			if err == nil {
				logger.Info("result cache using redis", zap.String("prefix", cfg.RedisPrefix))
				return NewRedisCache(client, cfg.RedisPrefix, logger), nil
			}
			logger.Warn("redis unavailable for result cache, using file backend", zap.Error(err))
		}
		return NewFileCache(cfg.Path, logger), nil
	default:
		return nil, fmt.Errorf("unknown result cache backend %q", cfg.Backend)
	}
}

func dialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := utils.ParseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func cloneMatches(matches []models.Match) []models.Match {
	if matches == nil {
		return nil
	}
	out := make([]models.Match, len(matches))
	for i, m := range matches {
		out[i] = models.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata.Clone()}
	}
	return out
}
