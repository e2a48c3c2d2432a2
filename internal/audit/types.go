package audit

import (
	"time"

	"github.com/lib/pq"
)

// Record is one row of translation_requests
type Record struct {
	ID         int64         `db:"id" json:"id"`
	RequestID  string        `db:"request_id" json:"request_id"`
	Mode       string        `db:"mode" json:"mode"`
	ModelIDs   pq.Int64Array `db:"model_ids" json:"model_ids"`
	ItemCount  int           `db:"item_count" json:"item_count"`
	StatusKind string        `db:"status_kind" json:"status_kind"`
	Why        string        `db:"why" json:"why,omitempty"`
	DurationMS float64       `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// Stats summarises recorded requests
type Stats struct {
	Total         int64            `json:"total"`
	ByStatus      map[string]int64 `json:"by_status"`
	AvgDurationMS float64          `json:"avg_duration_ms"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
