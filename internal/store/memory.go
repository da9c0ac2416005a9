// Package store — in-memory Store implementation.
// Used as a fallback when PostgreSQL is not configured (local dev, tests).
package store

import (
	"context"
	"sync"
	"time"

	"github.com/ossature/querygen/pkg/models"
)

// MemoryStore implements Store with in-memory maps and append-only slices.
type MemoryStore struct {
	mu      sync.RWMutex
	cache   map[string]*models.CacheEntry // key: entry key
	metrics []*models.UsageMetric         // append-only
	audit   []*models.QueryAuditLog       // append-only
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:   make(map[string]*models.CacheEntry),
		metrics: make([]*models.UsageMetric, 0),
		audit:   make([]*models.QueryAuditLog, 0),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Cache Store ──────────────────────────────────────────────

func (m *MemoryStore) GetCacheEntry(_ context.Context, key string) (*models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.cache[key]
	if !ok || entry.Expired(time.Now()) {
		return nil, &ErrNotFound{Entity: "cache entry", Key: key}
	}
	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) UpsertCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.cache[entry.Key] = &cp
	return nil
}

func (m *MemoryStore) TouchCacheEntry(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[key]
	if !ok {
		return &ErrNotFound{Entity: "cache entry", Key: key}
	}
	entry.HitCount++
	entry.LastAccessAt = at
	return nil
}

func (m *MemoryStore) DeleteExpiredCacheEntries(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var deleted int64
	for key, entry := range m.cache {
		if entry.Expired(now) {
			delete(m.cache, key)
			deleted++
		}
	}
	return deleted, nil
}

// ── Metric Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateUsageMetric(_ context.Context, metric *models.UsageMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *metric
	m.metrics = append(m.metrics, &cp)
	return nil
}

func (m *MemoryStore) UsageStats(_ context.Context, from, to time.Time) (*models.UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.UsageStats{
		From:         from,
		To:           to,
		ByProvider:   make(map[models.ProviderID]int64),
		ByComplexity: make(map[models.Complexity]int64),
	}

	var successes, cacheHits, latencySum int64
	for _, row := range m.metrics {
		if row.CreatedAt.Before(from) || !row.CreatedAt.Before(to) {
			continue
		}
		stats.TotalRequests++
		stats.TotalTokens += row.TokensUsed
		stats.TotalCost += row.EstimatedCost
		latencySum += row.LatencyMs
		if row.Success {
			successes++
		}
		if row.CacheStatus == models.CacheHit {
			cacheHits++
		}
		stats.ByProvider[row.Provider]++
		stats.ByComplexity[row.Complexity]++
	}

	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalRequests)
		stats.CacheHitRate = float64(cacheHits) / float64(stats.TotalRequests)
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalRequests)
	}
	return stats, nil
}

// ── Audit Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateAuditLog(_ context.Context, entry *models.QueryAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.audit = append(m.audit, &cp)
	return nil
}

// AuditLogCount returns the number of recorded audit rows. Test helper.
func (m *MemoryStore) AuditLogCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.audit)
}

// MetricCount returns the number of recorded usage rows. Test helper.
func (m *MemoryStore) MetricCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metrics)
}
