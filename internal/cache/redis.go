package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TranslationCache stores final translations in Redis
type TranslationCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewTranslationCache connects to Redis and verifies the connection
func NewTranslationCache(config *Config, logger *zap.Logger) (*TranslationCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := NewWithClient(redis.NewClient(opts), config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.client.Ping(ctx).Err(); err != nil {
		cache.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Translation cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// NewWithClient wraps an existing client without pinging it
func NewWithClient(client *redis.Client, config *Config, logger *zap.Logger) *TranslationCache {
	return &TranslationCache{
		client: client,
		config: config,
		logger: logger,
	}
}

// Lookup returns the cached translation for key. Redis failures count as
// misses.
func (tc *TranslationCache) Lookup(ctx context.Context, key Key) (string, bool) {
	cacheKey := tc.generateKey(key)

	data, err := tc.client.Get(ctx, cacheKey).Bytes()
	if err == redis.Nil {
		tc.misses.Add(1)
		tc.logger.Debug("Cache miss", zap.String("key", cacheKey))
		return "", false
	} else if err != nil {
		tc.misses.Add(1)
		tc.logger.Warn("Cache lookup failed", zap.String("key", cacheKey), zap.Error(err))
		return "", false
	}

	var cached CachedTranslation
	if err := json.Unmarshal(data, &cached); err != nil {
		tc.misses.Add(1)
		tc.logger.Error("Failed to unmarshal cached translation", zap.Error(err))
		tc.client.Del(ctx, cacheKey)
		return "", false
	}

	tc.hits.Add(1)
	tc.logger.Debug("Cache hit", zap.String("key", cacheKey), zap.Int("model_id", key.ModelID))
	return cached.Tgt, true
}

// Store caches tgt under key with the default TTL
func (tc *TranslationCache) Store(ctx context.Context, key Key, tgt string) error {
	cacheKey := tc.generateKey(key)

	data, err := json.Marshal(CachedTranslation{
		Tgt:      tgt,
		ModelID:  key.ModelID,
		Revision: key.Revision,
		CachedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal translation for caching: %w", err)
	}

	if err := tc.client.Set(ctx, cacheKey, data, tc.config.DefaultTTL).Err(); err != nil {
		tc.logger.Warn("Failed to cache translation", zap.String("key", cacheKey), zap.Error(err))
		return fmt.Errorf("failed to cache translation: %w", err)
	}

	return nil
}

// GetStats returns cache performance statistics
func (tc *TranslationCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   tc.hits.Load(),
		Misses: tc.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := tc.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\r\n") {
		if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := tc.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes all cached translations under the key prefix
func (tc *TranslationCache) Clear(ctx context.Context) error {
	iter := tc.client.Scan(ctx, 0, tc.config.KeyPrefix+":tr:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := tc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	tc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (tc *TranslationCache) Close() error {
	if tc.client != nil {
		return tc.client.Close()
	}
	return nil
}

// generateKey hashes every field that influences the translation. Strings
// are length-prefixed so text cannot move between src and target_prefix.
func (tc *TranslationCache) generateKey(key Key) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%d|%d|", key.Revision, key.ModelID)
	for _, s := range []string{string(key.Mode), key.Src, key.TargetPrefix} {
		fmt.Fprintf(hasher, "%d:%s", len(s), s)
	}
	hash := hex.EncodeToString(hasher.Sum(nil))
	return fmt.Sprintf("%s:tr:%s", tc.config.KeyPrefix, hash[:16])
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	start := strings.Index(url, "://") + len("://")
	if start < len("://") {
		start = 0
	}
	colon := strings.Index(url[start:at], ":")
	if colon < 0 {
		return url
	}
	return url[:start+colon+1] + "***" + url[at:]
}
