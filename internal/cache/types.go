package cache

import (
	"time"

	"github.com/raaihank/nmt-proxy/internal/langpair"
)

// Key identifies one cached translation. Revision ties the entry to the
// registry snapshot that produced it, so a model refresh invalidates it.
type Key struct {
	Revision     uint64
	ModelID      int
	Mode         langpair.Mode
	Src          string
	TargetPrefix string
}

// CachedTranslation is the stored value.
type CachedTranslation struct {
	Tgt      string    `json:"tgt"`
	ModelID  int       `json:"model_id"`
	Revision uint64    `json:"revision"`
	CachedAt time.Time `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string
	MaxConnections int
	MinIdleConns   int
	DefaultTTL     time.Duration
	KeyPrefix      string
}
