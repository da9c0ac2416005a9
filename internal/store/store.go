// Package store provides the storage interface and implementations for the
// query-generation service: the durable cache tier, the usage-metric table,
// and the audit log. Handler and service code depend only on the interface,
// so the in-memory implementation (local dev, tests) and the PostgreSQL
// implementation are interchangeable.
package store

import (
	"context"
	"time"

	"github.com/ossature/querygen/pkg/models"
)

// Store is the combined storage interface.
type Store interface {
	CacheStore
	MetricStore
	AuditStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Cache Store ──────────────────────────────────────────────

// CacheStore is the durable tier of the tiered cache.
type CacheStore interface {
	// GetCacheEntry returns the non-expired entry for the key, or
	// ErrNotFound. Expired rows are filtered at query time.
	GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error)

	// UpsertCacheEntry inserts or replaces the entry by key.
	UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) error

	// TouchCacheEntry increments the hit counter and refreshes the
	// last-access timestamp.
	TouchCacheEntry(ctx context.Context, key string, at time.Time) error

	// DeleteExpiredCacheEntries removes all rows past their expiry and
	// returns how many were deleted.
	DeleteExpiredCacheEntries(ctx context.Context) (int64, error)
}

// ── Metric Store ─────────────────────────────────────────────

// MetricStore records usage rows and answers the windowed rollups.
type MetricStore interface {
	// CreateUsageMetric appends one usage row. Rows are never mutated.
	CreateUsageMetric(ctx context.Context, metric *models.UsageMetric) error

	// UsageStats aggregates usage rows created in [from, to).
	UsageStats(ctx context.Context, from, to time.Time) (*models.UsageStats, error)
}

// ── Audit Store ──────────────────────────────────────────────

type AuditStore interface {
	// CreateAuditLog appends one audit row. Rows are never mutated.
	CreateAuditLog(ctx context.Context, entry *models.QueryAuditLog) error
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
