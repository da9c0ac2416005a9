package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossature/querygen/internal/cache"
	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/pkg/models"
)

// fakeDurable is a CacheStore with injectable failures.
type fakeDurable struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	getErr  error
	putErr  error
	gets    int
	puts    int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{entries: make(map[string]*models.CacheEntry)}
}

func (f *fakeDurable) GetCacheEntry(_ context.Context, key string) (*models.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	entry, ok := f.entries[key]
	if !ok || entry.Expired(time.Now()) {
		return nil, &store.ErrNotFound{Entity: "cache entry", Key: key}
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeDurable) UpsertCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.putErr != nil {
		return f.putErr
	}
	cp := *entry
	f.entries[entry.Key] = &cp
	return nil
}

func (f *fakeDurable) TouchCacheEntry(_ context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[key]; ok {
		entry.HitCount++
		entry.LastAccessAt = at
	}
	return nil
}

func (f *fakeDurable) DeleteExpiredCacheEntries(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var n int64
	for key, entry := range f.entries {
		if entry.Expired(now) {
			delete(f.entries, key)
			n++
		}
	}
	return n, nil
}

func testRequest() *models.QueryRequest {
	return &models.QueryRequest{
		Query:        "Combien de devis signés ce mois ?",
		Context:      "CREATE TABLE devis (id int, statut text, date_signature date);",
		Role:         "direction",
		QueryType:    "sql",
		CacheEnabled: true,
	}
}

func testResponse() *models.QueryResponse {
	return &models.QueryResponse{
		SQL:        "SELECT COUNT(*) FROM devis WHERE statut = 'signé'",
		Confidence: 0.8,
		Provider:   models.ProviderClaude,
		TokensUsed: 420,
	}
}

func TestKey_StableAndNormalized(t *testing.T) {
	a := &models.QueryRequest{Query: "Combien de DEVIS ?", Role: "direction", QueryType: "sql"}
	b := &models.QueryRequest{Query: "  combien de devis ?  ", Role: "direction", QueryType: "sql"}
	assert.Equal(t, cache.Key(a, 500), cache.Key(b, 500))

	c := &models.QueryRequest{Query: "combien de devis ?", Role: "conducteur", QueryType: "sql"}
	assert.NotEqual(t, cache.Key(a, 500), cache.Key(c, 500))
}

func TestKey_ContextTruncation(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	a := &models.QueryRequest{Query: "q", Role: "r", Context: string(long)}
	b := &models.QueryRequest{Query: "q", Role: "r", Context: string(long) + "different tail"}
	// Beyond the prefix length, contexts are treated as equivalent.
	assert.Equal(t, cache.Key(a, 500), cache.Key(b, 500))
}

func TestGetPut_SecondReadIsVolatileHit(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, time.Hour, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	first := c.Get(ctx, req)
	assert.Equal(t, models.CacheMiss, first.Status)

	c.Put(ctx, req, testResponse())

	getsBefore := durable.gets
	second := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, second.Status)
	assert.True(t, second.Response.FromCache)
	assert.Equal(t, "SELECT COUNT(*) FROM devis WHERE statut = 'signé'", second.Response.SQL)
	// Repeated hits avoid the durable store entirely.
	assert.Equal(t, getsBefore, durable.gets)
}

func TestGet_DurableHitBackfillsVolatile(t *testing.T) {
	durable := newFakeDurable()
	warm := cache.New(durable, time.Hour, 500, 1000)
	ctx := context.Background()
	req := testRequest()
	warm.Put(ctx, req, testResponse())

	// Fresh cache instance: volatile tier is empty, durable has the entry.
	c := cache.New(durable, time.Hour, 500, 1000)
	first := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, first.Status)

	getsBefore := durable.gets
	second := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, second.Status)
	assert.Equal(t, getsBefore, durable.gets, "second hit should be served from the volatile tier")
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, 10*time.Millisecond, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	c.Put(ctx, req, testResponse())
	time.Sleep(25 * time.Millisecond)

	result := c.Get(ctx, req)
	assert.Equal(t, models.CacheExpired, result.Status)
	assert.Nil(t, result.Response)
}

func TestPut_DurableFailureKeepsVolatileTier(t *testing.T) {
	durable := newFakeDurable()
	durable.putErr = errors.New("connection refused")
	c := cache.New(durable, time.Hour, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	c.Put(ctx, req, testResponse())

	result := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, result.Status)
	assert.True(t, result.Response.FromCache)
}

func TestGet_DegradedReadServesStaleEntry(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, 10*time.Millisecond, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	c.Put(ctx, req, testResponse())
	time.Sleep(25 * time.Millisecond)

	// Durable tier goes down: the expired volatile entry is served as a
	// last-resort stale answer, flagged as degraded.
	durable.getErr = errors.New("connection refused")

	result := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, result.Status)
	assert.True(t, result.Degraded)
	require.NotNil(t, result.Response)
	assert.True(t, result.Response.FromCache)
	assert.NotEmpty(t, result.Response.Warnings)
}

func TestGet_CleanDurableMissEvictsExpiredEntry(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, 10*time.Millisecond, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	c.Put(ctx, req, testResponse())
	time.Sleep(25 * time.Millisecond)

	// The durable tier answers (not-found, since its row also expired):
	// this is a clean expiry, not an outage, so no stale entry is served
	// and the volatile entry is lazily evicted.
	result := c.Get(ctx, req)
	assert.Equal(t, models.CacheExpired, result.Status)
	assert.False(t, result.Degraded)
	assert.Nil(t, result.Response)
	assert.Equal(t, 0, c.Len())
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, 10*time.Millisecond, 500, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := testRequest()
		req.Query = req.Query + string(rune('a'+i))
		c.Put(ctx, req, testResponse())
	}
	require.Equal(t, 5, c.Len())

	time.Sleep(25 * time.Millisecond)
	evicted := c.Sweep()
	assert.Equal(t, 5, evicted)
	assert.Equal(t, 0, c.Len())
}

func TestCleanupExpired_CountsBothTiers(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, 10*time.Millisecond, 500, 1000)
	ctx := context.Background()
	req := testRequest()

	c.Put(ctx, req, testResponse())
	time.Sleep(25 * time.Millisecond)

	removed, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	// One expired volatile entry plus one expired durable row.
	assert.Equal(t, int64(2), removed)
}

func TestCachedResponseIsACopy(t *testing.T) {
	durable := newFakeDurable()
	c := cache.New(durable, time.Hour, 500, 1000)
	ctx := context.Background()
	req := testRequest()
	c.Put(ctx, req, testResponse())

	first := c.Get(ctx, req)
	require.Equal(t, models.CacheHit, first.Status)
	first.Response.Warnings = append(first.Response.Warnings, "mutated by caller")

	second := c.Get(ctx, req)
	assert.Empty(t, second.Response.Warnings)
}
