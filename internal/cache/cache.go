// Package cache implements the two-tier response cache: a volatile
// in-process map backed by the durable store. The volatile tier answers
// repeated hits without touching the durable store; the durable tier
// survives restarts. Durable-tier failures degrade the cache, never the
// request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/pkg/models"
)

// Key derives the stable cache key for a request: a hash over the
// normalized lowercase query, the context truncated to contextPrefixLen,
// the role, and the query type. Truncating the context bounds keying cost
// and deliberately treats near-identical long contexts as equivalent.
func Key(req *models.QueryRequest, contextPrefixLen int) string {
	normalized := strings.ToLower(strings.TrimSpace(req.Query))
	context := req.Context
	if len(context) > contextPrefixLen {
		context = context[:contextPrefixLen]
	}

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(context))
	h.Write([]byte{0})
	h.Write([]byte(req.Role))
	h.Write([]byte{0})
	h.Write([]byte(req.QueryType))
	return hex.EncodeToString(h.Sum(nil))
}

// Result is the outcome of a cache read.
type Result struct {
	// Response is non-nil only when Status is CacheHit.
	Response *models.QueryResponse
	Status   models.CacheStatus
	// Degraded marks a stale entry served because the durable tier failed.
	// It is still a hit, just from the degraded path.
	Degraded bool
}

// TieredCache coordinates the volatile and durable tiers. Safe for
// concurrent use.
type TieredCache struct {
	durable          store.CacheStore
	ttl              time.Duration
	contextPrefixLen int
	sweepThreshold   int

	mu       sync.RWMutex
	volatile map[string]*models.CacheEntry
}

// New creates a tiered cache over the given durable tier.
func New(durable store.CacheStore, ttl time.Duration, contextPrefixLen, sweepThreshold int) *TieredCache {
	return &TieredCache{
		durable:          durable,
		ttl:              ttl,
		contextPrefixLen: contextPrefixLen,
		sweepThreshold:   sweepThreshold,
		volatile:         make(map[string]*models.CacheEntry),
	}
}

// KeyFor returns the cache key this cache derives for the request.
func (c *TieredCache) KeyFor(req *models.QueryRequest) string {
	return Key(req, c.contextPrefixLen)
}

// Get looks up the request in the volatile tier, then the durable tier.
// A durable hit backfills the volatile tier. If the durable tier fails on
// what would otherwise be a miss, an expired volatile entry for the same
// key may be served stale: availability over freshness, flagged via
// Result.Degraded.
func (c *TieredCache) Get(ctx context.Context, req *models.QueryRequest) Result {
	key := c.KeyFor(req)
	now := time.Now()

	c.mu.Lock()
	entry, ok := c.volatile[key]
	var stale *models.CacheEntry
	if ok {
		if !entry.Expired(now) {
			entry.HitCount++
			entry.LastAccessAt = now
			resp := cachedResponse(entry, false)
			c.mu.Unlock()
			return Result{Response: resp, Status: models.CacheHit}
		}
		// Keep the expired entry as a last-resort stale answer until the
		// durable tier has been consulted.
		stale = entry
	}
	c.mu.Unlock()

	durableEntry, err := c.durable.GetCacheEntry(ctx, key)
	if err != nil {
		var notFound *store.ErrNotFound
		if !errors.As(err, &notFound) {
			// Durable tier is down. Serve the stale volatile entry if one
			// exists rather than forcing a recomputation.
			if stale != nil {
				log.Warn().Err(err).Str("key", key).
					Msg("durable cache tier unavailable, serving stale volatile entry")
				return Result{Response: cachedResponse(stale, true), Status: models.CacheHit, Degraded: true}
			}
			log.Warn().Err(err).Str("key", key).Msg("durable cache tier read failed")
		}
		c.evict(key, stale)
		if stale != nil {
			return Result{Status: models.CacheExpired}
		}
		return Result{Status: models.CacheMiss}
	}

	// Durable hit: refresh hit metadata and backfill the volatile tier so
	// repeated hits avoid the durable store entirely.
	if terr := c.durable.TouchCacheEntry(ctx, key, now); terr != nil {
		log.Warn().Err(terr).Str("key", key).Msg("failed to refresh cache hit metadata")
	}
	durableEntry.HitCount++
	durableEntry.LastAccessAt = now

	c.mu.Lock()
	c.volatile[key] = durableEntry
	c.mu.Unlock()

	return Result{Response: cachedResponse(durableEntry, false), Status: models.CacheHit}
}

// Put stores a freshly computed response. The volatile write is
// unconditional; the durable upsert is attempted and a failure is logged
// but never surfaced — the cache stays correct for the remainder of the
// process lifetime even if durability is degraded.
func (c *TieredCache) Put(ctx context.Context, req *models.QueryRequest, resp *models.QueryResponse) {
	key := c.KeyFor(req)
	now := time.Now()

	entry := &models.CacheEntry{
		Key:          key,
		Query:        req.Query,
		Context:      req.Context,
		Role:         req.Role,
		Provider:     resp.Provider,
		Response:     resp,
		TokensUsed:   resp.TokensUsed,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(c.ttl),
	}

	c.mu.Lock()
	c.volatile[key] = entry
	needSweep := len(c.volatile) > c.sweepThreshold
	c.mu.Unlock()

	if needSweep {
		c.Sweep()
	}

	if err := c.durable.UpsertCacheEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("durable cache tier write failed, volatile tier only")
	}
}

// Sweep removes all expired entries from the volatile tier and returns how
// many were evicted. Triggered by size, not time.
func (c *TieredCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.volatile {
		if entry.Expired(now) {
			delete(c.volatile, key)
			evicted++
		}
	}
	return evicted
}

// CleanupExpired removes expired rows from the durable tier and expired
// entries from the volatile tier. Exposed to operators.
func (c *TieredCache) CleanupExpired(ctx context.Context) (int64, error) {
	swept := c.Sweep()
	deleted, err := c.durable.DeleteExpiredCacheEntries(ctx)
	if err != nil {
		return int64(swept), err
	}
	return deleted + int64(swept), nil
}

// Len returns the volatile tier size.
func (c *TieredCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.volatile)
}

// evict lazily removes an expired volatile entry, but only if it is still
// the same entry we saw (a concurrent Put may have replaced it).
func (c *TieredCache) evict(key string, seen *models.CacheEntry) {
	if seen == nil {
		return
	}
	c.mu.Lock()
	if current, ok := c.volatile[key]; ok && current == seen {
		delete(c.volatile, key)
	}
	c.mu.Unlock()
}

// cachedResponse clones the stored response with the cache flags applied.
func cachedResponse(entry *models.CacheEntry, degraded bool) *models.QueryResponse {
	resp := *entry.Response
	resp.Warnings = append([]string(nil), entry.Response.Warnings...)
	resp.FromCache = true
	if degraded {
		resp.Warnings = append(resp.Warnings, "réponse servie depuis une entrée de cache expirée (stockage durable indisponible)")
	}
	return &resp
}
