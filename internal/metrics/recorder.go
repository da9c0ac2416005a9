// Package metrics persists usage and audit rows and answers the windowed
// usage rollups. Recording is best-effort telemetry: it runs off the
// caller's critical path and a store failure is logged, never propagated.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ossature/querygen/internal/pricing"
	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/pkg/models"
)

// Sample captures everything recorded about one terminal request path:
// cache hit, success, or failure.
type Sample struct {
	Request          *models.QueryRequest
	Selection        *models.ModelSelection // nil when no provider was reached
	Response         *models.QueryResponse  // nil on failure
	CacheStatus      models.CacheStatus
	Complexity       models.Complexity // resolved bucket, not the raw hint
	ErrorType        models.ErrorType  // empty on success
	FallbackOccurred bool
	QueryHash        string
	ProcessedQuery   string
}

// Recorder writes usage and audit rows asynchronously.
type Recorder struct {
	store interface {
		store.MetricStore
		store.AuditStore
	}
	// recordTimeout bounds each background write.
	recordTimeout time.Duration
	wg            sync.WaitGroup
}

// NewRecorder creates a metrics recorder over the given store.
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s, recordTimeout: 10 * time.Second}
}

// Record dispatches the write as a background task. The caller's response
// is already finalized; failures here are contained and logged.
func (r *Recorder) Record(sample Sample) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Msg("metrics recording panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		defer cancel()
		r.write(ctx, sample)
	}()
}

// Flush blocks until all in-flight recordings complete. Used by shutdown
// and tests.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

func (r *Recorder) write(ctx context.Context, sample Sample) {
	now := time.Now().UTC()

	// The metric row carries the provider that actually served the request.
	// On total failure nothing did, so the row records "unknown"; the audit
	// row below keeps the selected provider.
	provider := models.ProviderUnknown
	if sample.Response != nil {
		provider = sample.Response.Provider
	}

	var tokens, latency int64
	success := sample.ErrorType == ""
	if sample.Response != nil {
		tokens = sample.Response.TokensUsed
		latency = sample.Response.LatencyMs
	}

	metric := &models.UsageMetric{
		ID:            uuid.NewString(),
		Provider:      provider,
		Role:          sample.Request.Role,
		QueryType:     sample.Request.QueryType,
		Complexity:    sample.Complexity,
		TokensUsed:    tokens,
		LatencyMs:     latency,
		Success:       success,
		ErrorType:     string(sample.ErrorType),
		CacheStatus:   sample.CacheStatus,
		EstimatedCost: pricing.Estimate(provider, tokens),
		CreatedAt:     now,
	}
	if err := r.store.CreateUsageMetric(ctx, metric); err != nil {
		log.Warn().Err(err).Msg("failed to record usage metric")
	}

	auditProvider := models.ProviderUnknown
	if sample.Selection != nil {
		auditProvider = sample.Selection.Provider
	}
	audit := &models.QueryAuditLog{
		ID:               uuid.NewString(),
		QueryHash:        sample.QueryHash,
		OriginalQuery:    sample.Request.Query,
		ProcessedQuery:   sample.ProcessedQuery,
		Provider:         auditProvider,
		FallbackOccurred: sample.FallbackOccurred,
		ContextSize:      len(sample.Request.Context),
		// Rejected requests are never recorded, so every audited request
		// passed validation.
		ValidationPassed: true,
		CreatedAt:        now,
	}
	if err := r.store.CreateAuditLog(ctx, audit); err != nil {
		log.Warn().Err(err).Msg("failed to record audit log")
	}
}
