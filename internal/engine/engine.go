// Package engine executes provider calls for a selected provider: bounded
// timeout per attempt, exponential-backoff retries against the same
// provider, then at most one cross-provider fallback attempt.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/ossature/querygen/internal/provider"
	"github.com/ossature/querygen/pkg/models"
)

// Engine drives provider execution.
type Engine struct {
	drivers     provider.Registry
	callTimeout time.Duration
	maxAttempts int
	backoffBase time.Duration
}

// New creates an execution engine over the given driver registry.
func New(drivers provider.Registry, callTimeout time.Duration, maxAttempts int, backoffBase time.Duration) *Engine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Engine{
		drivers:     drivers,
		callTimeout: callTimeout,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Drivers exposes the registry for health checks.
func (e *Engine) Drivers() provider.Registry { return e.drivers }

// Outcome is a successful execution result.
type Outcome struct {
	Response *models.QueryResponse
	// FallbackOccurred is true when the response came from the alternate
	// provider after the selected one exhausted its retries.
	FallbackOccurred bool
}

// Execute calls the selected provider with retries, then the fallback
// provider once if the selection allows it. On total exhaustion it returns
// a model_error carrying the last underlying failure.
func (e *Engine) Execute(ctx context.Context, req *models.QueryRequest, sel models.ModelSelection) (*Outcome, *models.ServiceError) {
	prompt := buildPrompt(req)

	resp, err := e.callWithRetry(ctx, sel.Provider, prompt, sel.Confidence)
	if err == nil {
		return &Outcome{Response: resp}, nil
	}

	if !sel.FallbackAvailable {
		return nil, models.NewModelError(
			fmt.Sprintf("provider %s failed after %d attempts", sel.Provider, e.maxAttempts),
			false, err)
	}

	// A single fallback attempt only — it does not re-enter the retry loop.
	fallbackID := sel.Provider.Other()
	log.Warn().
		Str("provider", string(sel.Provider)).
		Str("fallback", string(fallbackID)).
		Err(err).
		Msg("provider retries exhausted, switching to fallback provider")

	resp, ferr := e.callOnce(ctx, fallbackID, prompt, sel.Confidence)
	if ferr != nil {
		return nil, models.NewModelError(
			fmt.Sprintf("all providers failed, last error from %s", fallbackID),
			true, ferr)
	}
	return &Outcome{Response: resp, FallbackOccurred: true}, nil
}

// callWithRetry attempts the same provider up to maxAttempts times with
// exponential backoff (base × 2^attempt) between attempts.
func (e *Engine) callWithRetry(ctx context.Context, id models.ProviderID, prompt provider.Prompt, selectionConfidence float64) (*models.QueryResponse, error) {
	var resp *models.QueryResponse
	attempt := 0

	operation := func() error {
		attempt++
		r, err := e.callOnce(ctx, id, prompt, selectionConfidence)
		if err != nil {
			log.Warn().
				Str("provider", string(id)).
				Int("attempt", attempt).
				Err(err).
				Msg("provider call failed")
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(e.maxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// callOnce performs a single time-bounded provider call and decodes its
// output. A timeout marks the attempt failed; the remote call may still be
// running — there is no cancellation propagated beyond the deadline.
func (e *Engine) callOnce(ctx context.Context, id models.ProviderID, prompt provider.Prompt, selectionConfidence float64) (*models.QueryResponse, error) {
	driver := e.drivers.Get(id)
	if driver == nil || !driver.Available() {
		return nil, fmt.Errorf("provider %s not configured", id)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	completion, err := driver.Generate(callCtx, prompt)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	parsed := decodeCompletion(completion.Text)

	confidence := parsed.Confidence
	if confidence > selectionConfidence {
		confidence = selectionConfidence
	}

	return &models.QueryResponse{
		SQL:         parsed.SQL,
		Explanation: parsed.Explanation,
		Warnings:    parsed.Warnings,
		Confidence:  confidence,
		Provider:    id,
		TokensUsed:  completion.TotalTokens,
		LatencyMs:   latency,
	}, nil
}

// buildPrompt renders the uniform provider prompt for a request.
func buildPrompt(req *models.QueryRequest) provider.Prompt {
	system := "Tu es un assistant SQL pour un ERP de menuiserie. " +
		"Génère une requête SQL en lecture seule répondant à la question. " +
		"Réponds uniquement avec un objet JSON: " +
		`{"sql": "...", "explanation": "...", "confidence": 0.0, "warnings": []}`
	if req.Context != "" {
		system += "\n\nSchéma disponible:\n" + req.Context
	}
	if req.Role != "" {
		system += "\n\nRôle du demandeur: " + req.Role
	}

	return provider.Prompt{
		System:    system,
		User:      req.Query,
		MaxTokens: req.MaxTokens,
	}
}
