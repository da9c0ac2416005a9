// Package dispatcher is the service facade: it orchestrates validation,
// cache lookup, provider selection, execution, cache write-back, and
// telemetry for each request. One Service instance is constructed at
// startup and shared by all handlers; per-request state stays on the stack.
package dispatcher

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ossature/querygen/internal/cache"
	"github.com/ossature/querygen/internal/config"
	"github.com/ossature/querygen/internal/engine"
	"github.com/ossature/querygen/internal/metrics"
	"github.com/ossature/querygen/internal/provider"
	"github.com/ossature/querygen/internal/selector"
	"github.com/ossature/querygen/internal/store"
	"github.com/ossature/querygen/internal/validator"
	"github.com/ossature/querygen/pkg/models"
)

// Service is the query-generation service facade.
type Service struct {
	validator  *validator.Validator
	cache      *cache.TieredCache
	engine     *engine.Engine
	recorder   *metrics.Recorder
	aggregator *metrics.Aggregator
	store      store.Store
	defaults   config.ProvidersConfig
	tracer     trace.Tracer
}

// New wires the service from its collaborators.
func New(s store.Store, drivers provider.Registry, cfg *config.Config) *Service {
	return &Service{
		validator:  validator.New(),
		cache:      cache.New(s, cfg.Cache.TTL, cfg.Cache.ContextPrefixLen, cfg.Cache.SweepThreshold),
		engine:     engine.New(drivers, cfg.Engine.CallTimeout, cfg.Engine.MaxRetryAttempts, cfg.Engine.BackoffBase),
		recorder:   metrics.NewRecorder(s),
		aggregator: metrics.NewAggregator(s),
		store:      s,
		defaults:   cfg.Providers,
		tracer:     otel.Tracer("querygen/dispatcher"),
	}
}

// Cache exposes the tiered cache for the janitor and operator endpoints.
func (s *Service) Cache() *cache.TieredCache { return s.cache }

// Recorder exposes the metrics recorder so shutdown can flush it.
func (s *Service) Recorder() *metrics.Recorder { return s.recorder }

// GenerateQuery turns a natural-language request into a generated query.
// Every failure is a structured ServiceError; unexpected faults are caught
// at this boundary and surfaced as type "unknown".
func (s *Service) GenerateQuery(ctx context.Context, req *models.QueryRequest) (resp *models.QueryResponse, serr *models.ServiceError) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("unexpected fault in query generation")
			resp = nil
			serr = &models.ServiceError{Type: models.ErrUnknown, Message: "internal error"}
		}
	}()

	ctx, span := s.tracer.Start(ctx, "dispatcher.generate_query")
	defer span.End()

	if verr := s.validator.Validate(req); verr != nil {
		// Rejected before any cost: no cache lookup, no provider call,
		// no telemetry.
		return nil, verr
	}

	if req.MaxTokens <= 0 {
		req.MaxTokens = s.defaults.DefaultMaxTokens
	}

	queryHash := s.cache.KeyFor(req)
	complexity := resolveComplexity(req)
	span.SetAttributes(
		attribute.String("query.role", req.Role),
		attribute.String("query.complexity", string(complexity)),
	)

	cacheStatus := models.CacheInvalid
	if req.CacheEnabled {
		result := s.cache.Get(ctx, req)
		cacheStatus = result.Status
		if result.Status == models.CacheHit {
			s.recorder.Record(metrics.Sample{
				Request:        req,
				Response:       result.Response,
				CacheStatus:    models.CacheHit,
				Complexity:     complexity,
				QueryHash:      queryHash,
				ProcessedQuery: result.Response.SQL,
			})
			return result.Response, nil
		}
	}

	avail := s.availability()
	sel := selector.Select(req, avail)
	span.SetAttributes(attribute.String("query.provider", string(sel.Provider)))

	outcome, execErr := s.engine.Execute(ctx, req, sel)
	if execErr != nil {
		fallbackAttempted := false
		if v, ok := execErr.Details["fallback_attempted"].(bool); ok {
			fallbackAttempted = v
		}
		s.recorder.Record(metrics.Sample{
			Request:          req,
			Selection:        &sel,
			CacheStatus:      cacheStatus,
			Complexity:       complexity,
			ErrorType:        execErr.Type,
			FallbackOccurred: fallbackAttempted,
			QueryHash:        queryHash,
		})
		return nil, execErr
	}

	resp = outcome.Response
	if req.CacheEnabled {
		s.cache.Put(ctx, req, resp)
	}

	s.recorder.Record(metrics.Sample{
		Request:          req,
		Selection:        &sel,
		Response:         resp,
		CacheStatus:      cacheStatus,
		Complexity:       complexity,
		FallbackOccurred: outcome.FallbackOccurred,
		QueryHash:        queryHash,
		ProcessedQuery:   resp.SQL,
	})
	return resp, nil
}

// UsageStats returns the rollup for the last `days` days.
func (s *Service) UsageStats(ctx context.Context, days int) (*models.UsageStats, error) {
	return s.aggregator.Stats(ctx, days)
}

// CleanupExpiredCache removes expired entries from both cache tiers.
func (s *Service) CleanupExpiredCache(ctx context.Context) (int64, error) {
	return s.cache.CleanupExpired(ctx)
}

// HealthCheck probes each provider and the store, returning one boolean
// per dependency.
func (s *Service) HealthCheck(ctx context.Context) *models.HealthReport {
	report := &models.HealthReport{
		Healthy:      true,
		Dependencies: make(map[string]bool),
	}

	for id, driver := range s.engine.Drivers() {
		ok := driver.Available() && driver.HealthCheck(ctx) == nil
		report.Dependencies["provider:"+string(id)] = ok
		if !ok {
			report.Healthy = false
		}
	}

	storeOK := s.store.Ping(ctx) == nil
	report.Dependencies["store"] = storeOK
	if !storeOK {
		report.Healthy = false
	}
	return report
}

// availability reports which providers currently have configured drivers.
func (s *Service) availability() selector.Availability {
	drivers := s.engine.Drivers()
	return selector.Availability{
		Claude: drivers.Available(models.ProviderClaude),
		GPT:    drivers.Available(models.ProviderGPT),
	}
}

// resolveComplexity buckets a request: the explicit hint wins, otherwise
// the automatic score decides between simple and complex.
func resolveComplexity(req *models.QueryRequest) models.Complexity {
	if req.Complexity != "" {
		return req.Complexity
	}
	if selector.ComplexityScore(req) > selector.AutoComplexityThreshold {
		return models.ComplexityComplex
	}
	return models.ComplexitySimple
}
