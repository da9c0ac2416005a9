package dispatcher_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ossature/querygen/internal/config"
	"github.com/ossature/querygen/internal/dispatcher"
	"github.com/ossature/querygen/internal/provider"
	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/pkg/models"
)

type fakeDriver struct {
	id      models.ProviderID
	fail    bool
	calls   int32
	healthy bool
}

func (d *fakeDriver) ID() models.ProviderID { return d.id }
func (d *fakeDriver) Available() bool       { return true }

func (d *fakeDriver) Generate(_ context.Context, _ provider.Prompt) (*provider.Completion, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.fail {
		return nil, errors.New("upstream error")
	}
	return &provider.Completion{
		Text:        `{"sql": "SELECT COUNT(*) FROM devis", "explanation": "nombre de devis", "confidence": 0.85}`,
		TotalTokens: 250,
	}, nil
}

func (d *fakeDriver) HealthCheck(_ context.Context) error {
	if !d.healthy {
		return errors.New("unreachable")
	}
	return nil
}

func (d *fakeDriver) callCount() int { return int(atomic.LoadInt32(&d.calls)) }

func testConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			TTL:              time.Hour,
			ContextPrefixLen: 500,
			SweepThreshold:   1000,
		},
		Engine: config.EngineConfig{
			CallTimeout:      time.Second,
			MaxRetryAttempts: 3,
			BackoffBase:      time.Millisecond,
		},
		Providers: config.ProvidersConfig{DefaultMaxTokens: 1024},
	}
}

func newService(claude, gpt *fakeDriver) (*dispatcher.Service, *store.MemoryStore) {
	s := store.NewMemoryStore()
	drivers := provider.Registry{}
	if claude != nil {
		drivers[models.ProviderClaude] = claude
	}
	if gpt != nil {
		drivers[models.ProviderGPT] = gpt
	}
	return dispatcher.New(s, drivers, testConfig()), s
}

func request() *models.QueryRequest {
	return &models.QueryRequest{
		Query:        "Combien de devis signés ce mois ?",
		Role:         "direction",
		QueryType:    "sql",
		CacheEnabled: true,
	}
}

func TestGenerateQuery_Success(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, mem := newService(claude, nil)

	resp, serr := svc.GenerateQuery(context.Background(), request())
	if serr != nil {
		t.Fatalf("GenerateQuery() error = %v", serr)
	}
	if resp.SQL != "SELECT COUNT(*) FROM devis" {
		t.Errorf("SQL = %q", resp.SQL)
	}
	if resp.FromCache {
		t.Error("FromCache = true on first request")
	}
	if resp.Provider != models.ProviderClaude {
		t.Errorf("Provider = %q, want claude", resp.Provider)
	}

	svc.Recorder().Flush()
	if mem.MetricCount() != 1 {
		t.Errorf("MetricCount() = %d, want 1", mem.MetricCount())
	}
	if mem.AuditLogCount() != 1 {
		t.Errorf("AuditLogCount() = %d, want 1", mem.AuditLogCount())
	}
}

func TestGenerateQuery_SecondIdenticalRequestIsCacheHit(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, mem := newService(claude, nil)
	ctx := context.Background()

	first, serr := svc.GenerateQuery(ctx, request())
	if serr != nil {
		t.Fatalf("first GenerateQuery() error = %v", serr)
	}
	if first.FromCache {
		t.Fatal("first response unexpectedly from cache")
	}

	second, serr := svc.GenerateQuery(ctx, request())
	if serr != nil {
		t.Fatalf("second GenerateQuery() error = %v", serr)
	}
	if !second.FromCache {
		t.Error("second response FromCache = false, want true")
	}
	if claude.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (hit must not reach the provider)", claude.callCount())
	}

	// Both requests are recorded, the second with a hit status.
	svc.Recorder().Flush()
	if mem.MetricCount() != 2 {
		t.Errorf("MetricCount() = %d, want 2", mem.MetricCount())
	}
}

func TestGenerateQuery_CacheDisabledAlwaysCallsProvider(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, _ := newService(claude, nil)
	ctx := context.Background()

	req := request()
	req.CacheEnabled = false

	for i := 0; i < 2; i++ {
		resp, serr := svc.GenerateQuery(ctx, req)
		if serr != nil {
			t.Fatalf("GenerateQuery() error = %v", serr)
		}
		if resp.FromCache {
			t.Error("FromCache = true with caching disabled")
		}
	}
	if claude.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", claude.callCount())
	}
}

func TestGenerateQuery_ValidationFailureShortCircuits(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, mem := newService(claude, nil)

	req := request()
	req.Query = "liste des clients'; DROP TABLE devis; --"

	_, serr := svc.GenerateQuery(context.Background(), req)
	if serr == nil {
		t.Fatal("GenerateQuery() = nil error, want validation_error")
	}
	if serr.Type != models.ErrValidation {
		t.Errorf("Type = %q, want %q", serr.Type, models.ErrValidation)
	}
	if claude.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0", claude.callCount())
	}

	// Rejected requests incur no telemetry.
	svc.Recorder().Flush()
	if mem.MetricCount() != 0 {
		t.Errorf("MetricCount() = %d, want 0", mem.MetricCount())
	}
	if mem.AuditLogCount() != 0 {
		t.Errorf("AuditLogCount() = %d, want 0", mem.AuditLogCount())
	}
}

func TestGenerateQuery_ForcedModelRespected(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	gpt := &fakeDriver{id: models.ProviderGPT, healthy: true}
	svc, _ := newService(claude, gpt)

	req := request()
	req.CacheEnabled = false
	req.ForceModel = models.ProviderGPT

	resp, serr := svc.GenerateQuery(context.Background(), req)
	if serr != nil {
		t.Fatalf("GenerateQuery() error = %v", serr)
	}
	if resp.Provider != models.ProviderGPT {
		t.Errorf("Provider = %q, want gpt", resp.Provider)
	}
	if gpt.callCount() != 1 || claude.callCount() != 0 {
		t.Errorf("calls: gpt = %d, claude = %d; want 1, 0", gpt.callCount(), claude.callCount())
	}
}

func TestGenerateQuery_ProviderFailureRecordsMetric(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, fail: true, healthy: true}
	svc, mem := newService(claude, nil)

	_, serr := svc.GenerateQuery(context.Background(), request())
	if serr == nil {
		t.Fatal("GenerateQuery() = nil error, want model_error")
	}
	if serr.Type != models.ErrModel {
		t.Errorf("Type = %q, want %q", serr.Type, models.ErrModel)
	}

	svc.Recorder().Flush()
	if mem.MetricCount() != 1 {
		t.Errorf("MetricCount() = %d, want 1", mem.MetricCount())
	}
}

func TestGenerateQuery_FailedRequestMetricProviderUnknown(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, fail: true, healthy: true}
	svc, _ := newService(claude, nil)
	ctx := context.Background()

	_, serr := svc.GenerateQuery(ctx, request())
	if serr == nil {
		t.Fatal("GenerateQuery() = nil error, want model_error")
	}
	svc.Recorder().Flush()

	// No provider served the request, so the metric row carries "unknown"
	// rather than the selected provider.
	stats, err := svc.UsageStats(ctx, 7)
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.ByProvider[models.ProviderUnknown] != 1 {
		t.Errorf("ByProvider[unknown] = %d, want 1", stats.ByProvider[models.ProviderUnknown])
	}
	if stats.ByProvider[models.ProviderClaude] != 0 {
		t.Errorf("ByProvider[claude] = %d, want 0", stats.ByProvider[models.ProviderClaude])
	}
}

func TestGenerateQuery_FallbackToSecondary(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, fail: true, healthy: true}
	gpt := &fakeDriver{id: models.ProviderGPT, healthy: true}
	svc, _ := newService(claude, gpt)

	resp, serr := svc.GenerateQuery(context.Background(), request())
	if serr != nil {
		t.Fatalf("GenerateQuery() error = %v", serr)
	}
	if resp.Provider != models.ProviderGPT {
		t.Errorf("Provider = %q, want gpt after fallback", resp.Provider)
	}
	if gpt.callCount() != 1 {
		t.Errorf("gpt calls = %d, want 1", gpt.callCount())
	}
}

func TestUsageStats_DefaultsToSevenDays(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, _ := newService(claude, nil)
	ctx := context.Background()

	if _, serr := svc.GenerateQuery(ctx, request()); serr != nil {
		t.Fatalf("GenerateQuery() error = %v", serr)
	}
	svc.Recorder().Flush()

	stats, err := svc.UsageStats(ctx, 0)
	if err != nil {
		t.Fatalf("UsageStats() error = %v", err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", stats.TotalRequests)
	}
	if stats.ByProvider[models.ProviderClaude] != 1 {
		t.Errorf("ByProvider = %v", stats.ByProvider)
	}
}

func TestCleanupExpiredCache(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	svc, _ := newService(claude, nil)
	ctx := context.Background()

	if _, serr := svc.GenerateQuery(ctx, request()); serr != nil {
		t.Fatalf("GenerateQuery() error = %v", serr)
	}

	// Nothing is expired yet.
	removed, err := svc.CleanupExpiredCache(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredCache() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}

func TestHealthCheck_ReportsPerDependency(t *testing.T) {
	claude := &fakeDriver{id: models.ProviderClaude, healthy: true}
	gpt := &fakeDriver{id: models.ProviderGPT, healthy: false}
	svc, _ := newService(claude, gpt)

	report := svc.HealthCheck(context.Background())

	if report.Healthy {
		t.Error("Healthy = true with an unhealthy provider")
	}
	if !report.Dependencies["provider:claude"] {
		t.Error("provider:claude reported unhealthy")
	}
	if report.Dependencies["provider:gpt"] {
		t.Error("provider:gpt reported healthy")
	}
	if !report.Dependencies["store"] {
		t.Error("store reported unhealthy")
	}
}
