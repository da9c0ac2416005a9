package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ossature/querygen/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the required tables
// if they don't exist.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS qg_cache (
			key            TEXT PRIMARY KEY,
			query          TEXT NOT NULL,
			context        TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL,
			provider       TEXT NOT NULL,
			response       JSONB NOT NULL,
			tokens_used    BIGINT NOT NULL DEFAULT 0,
			hit_count      BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_access_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_qg_cache_expires ON qg_cache (expires_at);

		CREATE TABLE IF NOT EXISTS qg_usage_metrics (
			id             TEXT PRIMARY KEY,
			provider       TEXT NOT NULL,
			role           TEXT NOT NULL,
			query_type     TEXT NOT NULL DEFAULT '',
			complexity     TEXT NOT NULL DEFAULT '',
			tokens_used    BIGINT NOT NULL DEFAULT 0,
			latency_ms     BIGINT NOT NULL DEFAULT 0,
			success        BOOLEAN NOT NULL,
			error_type     TEXT NOT NULL DEFAULT '',
			cache_status   TEXT NOT NULL,
			estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_qg_usage_created ON qg_usage_metrics (created_at);

		CREATE TABLE IF NOT EXISTS qg_audit_log (
			id                TEXT PRIMARY KEY,
			query_hash        TEXT NOT NULL,
			original_query    TEXT NOT NULL,
			processed_query   TEXT NOT NULL DEFAULT '',
			provider          TEXT NOT NULL,
			fallback_occurred BOOLEAN NOT NULL DEFAULT FALSE,
			context_size      INTEGER NOT NULL DEFAULT 0,
			validation_passed BOOLEAN NOT NULL,
			validation_error  TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Cache Store ──────────────────────────────────────────────

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, query, context, role, provider, response, tokens_used,
		       hit_count, created_at, last_access_at, expires_at
		FROM qg_cache
		WHERE key = $1 AND expires_at > NOW()`, key)

	var entry models.CacheEntry
	var provider string
	var responseJSON []byte
	err := row.Scan(&entry.Key, &entry.Query, &entry.Context, &entry.Role, &provider,
		&responseJSON, &entry.TokensUsed, &entry.HitCount,
		&entry.CreatedAt, &entry.LastAccessAt, &entry.ExpiresAt)
	if err != nil {
		return nil, scanCacheErr(err, key)
	}
	entry.Provider = models.ProviderID(provider)

	var resp models.QueryResponse
	if err := json.Unmarshal(responseJSON, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	entry.Response = &resp
	return &entry, nil
}

// scanCacheErr classifies a cache row scan failure. pgx defers connection
// errors from QueryRow to Scan, so only ErrNoRows is a clean miss; anything
// else must surface as an outage so the cache can take its degraded path.
func scanCacheErr(err error, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: "cache entry", Key: key}
	}
	return fmt.Errorf("get cache entry: %w", err)
}

func (s *PostgresStore) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	responseJSON, err := json.Marshal(entry.Response)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO qg_cache (key, query, context, role, provider, response,
		                      tokens_used, hit_count, created_at, last_access_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (key) DO UPDATE SET
			query = EXCLUDED.query,
			context = EXCLUDED.context,
			role = EXCLUDED.role,
			provider = EXCLUDED.provider,
			response = EXCLUDED.response,
			tokens_used = EXCLUDED.tokens_used,
			created_at = EXCLUDED.created_at,
			last_access_at = EXCLUDED.last_access_at,
			expires_at = EXCLUDED.expires_at`,
		entry.Key, entry.Query, entry.Context, entry.Role, string(entry.Provider),
		responseJSON, entry.TokensUsed, entry.HitCount,
		entry.CreatedAt, entry.LastAccessAt, entry.ExpiresAt)
	return err
}

func (s *PostgresStore) TouchCacheEntry(ctx context.Context, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qg_cache SET hit_count = hit_count + 1, last_access_at = $2
		WHERE key = $1`, key, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "cache entry", Key: key}
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredCacheEntries(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM qg_cache WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ── Metric Store ─────────────────────────────────────────────

func (s *PostgresStore) CreateUsageMetric(ctx context.Context, metric *models.UsageMetric) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qg_usage_metrics (id, provider, role, query_type, complexity,
		       tokens_used, latency_ms, success, error_type, cache_status,
		       estimated_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		metric.ID, string(metric.Provider), metric.Role, metric.QueryType,
		string(metric.Complexity), metric.TokensUsed, metric.LatencyMs,
		metric.Success, metric.ErrorType, string(metric.CacheStatus),
		metric.EstimatedCost, metric.CreatedAt)
	return err
}

func (s *PostgresStore) UsageStats(ctx context.Context, from, to time.Time) (*models.UsageStats, error) {
	stats := &models.UsageStats{
		From:         from,
		To:           to,
		ByProvider:   make(map[models.ProviderID]int64),
		ByComplexity: make(map[models.Complexity]int64),
	}

	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0),
		       COALESCE(AVG(latency_ms), 0),
		       COALESCE(SUM(tokens_used), 0),
		       COALESCE(SUM(estimated_cost), 0),
		       COALESCE(AVG(CASE WHEN cache_status = 'hit' THEN 1.0 ELSE 0.0 END), 0)
		FROM qg_usage_metrics
		WHERE created_at >= $1 AND created_at < $2`, from, to)
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessRate, &stats.AvgLatencyMs,
		&stats.TotalTokens, &stats.TotalCost, &stats.CacheHitRate); err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT provider, COUNT(*) FROM qg_usage_metrics
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY provider`, from, to)
	if err != nil {
		return nil, fmt.Errorf("usage stats by provider: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var count int64
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, err
		}
		stats.ByProvider[models.ProviderID(provider)] = count
	}

	crows, err := s.pool.Query(ctx, `
		SELECT complexity, COUNT(*) FROM qg_usage_metrics
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY complexity`, from, to)
	if err != nil {
		return nil, fmt.Errorf("usage stats by complexity: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var complexity string
		var count int64
		if err := crows.Scan(&complexity, &count); err != nil {
			return nil, err
		}
		stats.ByComplexity[models.Complexity(complexity)] = count
	}

	return stats, nil
}

// ── Audit Store ──────────────────────────────────────────────

func (s *PostgresStore) CreateAuditLog(ctx context.Context, entry *models.QueryAuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qg_audit_log (id, query_hash, original_query, processed_query,
		       provider, fallback_occurred, context_size, validation_passed,
		       validation_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.QueryHash, entry.OriginalQuery, entry.ProcessedQuery,
		string(entry.Provider), entry.FallbackOccurred, entry.ContextSize,
		entry.ValidationPassed, entry.ValidationError, entry.CreatedAt)
	return err
}
