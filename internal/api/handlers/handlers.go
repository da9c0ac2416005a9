// Package handlers implements the HTTP handlers for the query-generation
// service. The route layer owns authentication; these handlers assume the
// request has already been authorized.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ossature/querygen/internal/dispatcher"
	"github.com/ossature/querygen/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Service *dispatcher.Service
}

// New creates a new Handlers instance.
func New(svc *dispatcher.Service) *Handlers {
	return &Handlers{Service: svc}
}

// GenerateQuery handles POST /api/v1/query.
func (h *Handlers) GenerateQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondServiceError(w, models.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	resp, serr := h.Service.GenerateQuery(r.Context(), &req)
	if serr != nil {
		respondServiceError(w, serr)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// UsageStats handles GET /api/v1/stats?days=N.
func (h *Handlers) UsageStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	stats, err := h.Service.UsageStats(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// CleanupCache handles POST /api/v1/cache/cleanup.
func (h *Handlers) CleanupCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Service.CleanupExpiredCache(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Service.HealthCheck(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

// ── Response helpers ─────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps structured service errors to HTTP statuses.
func respondServiceError(w http.ResponseWriter, serr *models.ServiceError) {
	status := http.StatusInternalServerError
	switch serr.Type {
	case models.ErrValidation:
		status = http.StatusBadRequest
	case models.ErrModel:
		status = http.StatusBadGateway
	}
	respondJSON(w, status, serr)
}
