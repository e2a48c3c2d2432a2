// Package audit records translation requests in PostgreSQL.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS translation_requests (
	id          BIGSERIAL PRIMARY KEY,
	request_id  TEXT NOT NULL,
	mode        TEXT NOT NULL,
	model_ids   BIGINT[] NOT NULL DEFAULT '{}',
	item_count  INTEGER NOT NULL,
	status_kind TEXT NOT NULL,
	why         TEXT NOT NULL DEFAULT '',
	duration_ms DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_translation_requests_created_at ON translation_requests (created_at DESC)`

// Store handles audit storage operations with PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to the database and ensures the schema exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := NewWithDB(db, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// NewWithDB wraps an open connection
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the audit table and index when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// Record inserts one request row and fills in its id and timestamp
func (s *Store) Record(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO translation_requests (request_id, mode, model_ids, item_count, status_kind, why, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		rec.RequestID,
		rec.Mode,
		rec.ModelIDs,
		rec.ItemCount,
		rec.StatusKind,
		rec.Why,
		rec.DurationMS,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		s.logger.Error("Failed to record translation request",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to record translation request: %w", err)
	}

	s.logger.Debug("Translation request recorded",
		zap.Int64("id", rec.ID),
		zap.String("request_id", rec.RequestID),
		zap.String("status_kind", rec.StatusKind))

	return nil
}

// Recent returns the latest rows, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request_id, mode, model_ids, item_count, status_kind, why, duration_ms, created_at
		FROM translation_requests
		ORDER BY created_at DESC
		LIMIT $1`

	var records []*Record
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list translation requests: %w", err)
	}
	return records, nil
}

// Stats counts recorded requests per status kind
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT status_kind, COUNT(*) AS count, COALESCE(AVG(duration_ms), 0) AS avg_ms
		FROM translation_requests
		GROUP BY status_kind`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[string]int64)}
	var weighted float64
	for rows.Next() {
		var (
			kind  string
			count int64
			avgMS float64
		)
		if err := rows.Scan(&kind, &count, &avgMS); err != nil {
			return nil, fmt.Errorf("failed to scan audit stats: %w", err)
		}
		stats.ByStatus[kind] = count
		stats.Total += count
		weighted += avgMS * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit stats: %w", err)
	}

	if stats.Total > 0 {
		stats.AvgDurationMS = weighted / float64(stats.Total)
	}
	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
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
