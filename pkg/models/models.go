// Package models defines the shared data model for the query-generation
// service: requests, responses, cache entries, usage metrics, and the
// structured error shape returned to callers.
package models

import (
	"fmt"
	"time"
)

// ── Providers ────────────────────────────────────────────────

// ProviderID identifies one of the configured model providers.
type ProviderID string

const (
	// ProviderClaude is the default/primary provider. It is assumed to have
	// better grounding on the menuiserie domain vocabulary.
	ProviderClaude ProviderID = "claude"
	// ProviderGPT is the secondary provider, preferred for analytically
	// complex queries when available.
	ProviderGPT ProviderID = "gpt"
	// ProviderUnknown is recorded on metrics when no provider was reached.
	ProviderUnknown ProviderID = "unknown"
)

// Other returns the alternate provider, used for cross-provider fallback.
func (p ProviderID) Other() ProviderID {
	if p == ProviderClaude {
		return ProviderGPT
	}
	return ProviderClaude
}

// ── Complexity ───────────────────────────────────────────────

// Complexity is the caller-supplied complexity hint.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
	ComplexityExpert  Complexity = "expert"
)

// ── Query Request ────────────────────────────────────────────

// QueryRequest is the inbound natural-language query to translate.
type QueryRequest struct {
	// Query is the natural-language question. Must be non-empty.
	Query string `json:"query"`

	// Context is a free-form schema excerpt giving the model the relevant
	// tables and columns. Only a fixed-length prefix participates in the
	// cache key.
	Context string `json:"context,omitempty"`

	// Role is the requesting role (e.g. "conducteur", "direction").
	// Must be non-empty.
	Role string `json:"role"`

	// QueryType buckets requests for cache keying and reporting
	// (e.g. "sql", "report").
	QueryType string `json:"query_type,omitempty"`

	// Complexity is an optional hint; empty means unset.
	Complexity Complexity `json:"complexity,omitempty"`

	// ForceModel pins the request to a specific provider, bypassing
	// selection rules entirely.
	ForceModel ProviderID `json:"force_model,omitempty"`

	// CacheEnabled controls whether the tiered cache is consulted/filled.
	CacheEnabled bool `json:"cache_enabled"`

	// MaxTokens is the token budget passed to the provider. Zero means
	// the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// ── Model Selection ──────────────────────────────────────────

// Selection rule tags, in the order the rules are evaluated.
const (
	RuleUserOverride     = "user_override"
	RuleComplexityBased  = "complexity_based"
	RuleAutoComplexity   = "auto_complexity_detection"
	RuleMenuiserieDomain = "menuiserie_specialization"
	RuleGPTUnavailable   = "gpt_unavailable_fallback"
)

// ModelSelection is the outcome of the selection rules for one request.
// It is produced fresh per request and only ever logged as metric fields,
// never persisted as an entity.
type ModelSelection struct {
	Provider          ProviderID `json:"provider"`
	Reason            string     `json:"reason"`
	Confidence        float64    `json:"confidence"` // in [0,1]
	RulesFired        []string   `json:"rules_fired"`
	FallbackAvailable bool       `json:"fallback_available"`
}

// ── Query Response ───────────────────────────────────────────

// QueryResponse is the generated query plus its metadata. Immutable once
// produced; the cached payload is this value plus the request fingerprint.
type QueryResponse struct {
	SQL         string     `json:"sql"`
	Explanation string     `json:"explanation,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Confidence  float64    `json:"confidence"`
	Provider    ProviderID `json:"provider"`
	TokensUsed  int64      `json:"tokens_used"`
	LatencyMs   int64      `json:"latency_ms"`
	FromCache   bool       `json:"from_cache"`
}

// ── Cache ────────────────────────────────────────────────────

// CacheStatus records how the cache behaved for one request.
type CacheStatus string

const (
	CacheHit     CacheStatus = "hit"
	CacheMiss    CacheStatus = "miss"
	CacheExpired CacheStatus = "expired"
	CacheInvalid CacheStatus = "invalid"
)

// CacheEntry is one cached response, keyed by the request fingerprint.
// Entries are never updated in place except for hit metadata.
type CacheEntry struct {
	Key          string         `json:"key"`
	Query        string         `json:"query"`
	Context      string         `json:"context"`
	Role         string         `json:"role"`
	Provider     ProviderID     `json:"provider"`
	Response     *QueryResponse `json:"response"`
	TokensUsed   int64          `json:"tokens_used"`
	HitCount     int64          `json:"hit_count"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessAt time.Time      `json:"last_access_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ── Usage Metrics & Audit ────────────────────────────────────

// UsageMetric is one append-only row per request attempt.
type UsageMetric struct {
	ID            string      `json:"id"`
	Provider      ProviderID  `json:"provider"`
	Role          string      `json:"role"`
	QueryType     string      `json:"query_type"`
	Complexity    Complexity  `json:"complexity"`
	TokensUsed    int64       `json:"tokens_used"`
	LatencyMs     int64       `json:"latency_ms"`
	Success       bool        `json:"success"`
	ErrorType     string      `json:"error_type,omitempty"`
	CacheStatus   CacheStatus `json:"cache_status"`
	EstimatedCost float64     `json:"estimated_cost"`
	CreatedAt     time.Time   `json:"created_at"`
}

// QueryAuditLog is one append-only row per request.
type QueryAuditLog struct {
	ID               string     `json:"id"`
	QueryHash        string     `json:"query_hash"`
	OriginalQuery    string     `json:"original_query"`
	ProcessedQuery   string     `json:"processed_query"`
	Provider         ProviderID `json:"provider"`
	FallbackOccurred bool       `json:"fallback_occurred"`
	ContextSize      int        `json:"context_size"`
	ValidationPassed bool       `json:"validation_passed"`
	ValidationError  string     `json:"validation_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// UsageStats is the time-windowed rollup over UsageMetric rows.
type UsageStats struct {
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	TotalRequests int64                `json:"total_requests"`
	SuccessRate   float64              `json:"success_rate"`
	AvgLatencyMs  float64              `json:"avg_latency_ms"`
	TotalTokens   int64                `json:"total_tokens"`
	TotalCost     float64              `json:"total_cost"`
	CacheHitRate  float64              `json:"cache_hit_rate"`
	ByProvider    map[ProviderID]int64 `json:"by_provider"`
	ByComplexity  map[Complexity]int64 `json:"by_complexity"`
}

// ── Structured Errors ────────────────────────────────────────

// ErrorType classifies user-visible failures.
type ErrorType string

const (
	// ErrValidation — rejected before any cost was incurred; the caller can
	// correct the input and retry.
	ErrValidation ErrorType = "validation_error"
	// ErrModel — all providers and attempts exhausted.
	ErrModel ErrorType = "model_error"
	// ErrUnknown — unexpected internal fault caught at the outer boundary.
	ErrUnknown ErrorType = "unknown"
)

// ServiceError is the structured result object surfaced on failure.
// Callers never see a raw panic or stack.
type ServiceError struct {
	Type    ErrorType      `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError builds a validation_error with a failure reason.
func NewValidationError(msg string) *ServiceError {
	return &ServiceError{Type: ErrValidation, Message: msg}
}

// NewModelError builds a model_error carrying the last underlying failure
// and whether a cross-provider fallback was attempted.
func NewModelError(msg string, fallbackAttempted bool, lastErr error) *ServiceError {
	details := map[string]any{"fallback_attempted": fallbackAttempted}
	if lastErr != nil {
		details["last_error"] = lastErr.Error()
	}
	return &ServiceError{Type: ErrModel, Message: msg, Details: details}
}

// ── Health ───────────────────────────────────────────────────

// HealthReport maps each dependency (providers, store) to its reachability.
type HealthReport struct {
	Healthy      bool            `json:"healthy"`
	Dependencies map[string]bool `json:"dependencies"`
}
