package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/velostore/velocity/audit"
	velocityhttp "github.com/velostore/velocity/internal/httputil"
)

const (
	defaultStatsWindow = 24 * time.Hour
	defaultLimit       = 10
	maxLimit           = 100
)

// StatsProvider exposes the audit read models required by the stats API.
type StatsProvider interface {
	GetOverview(ctx context.Context, window time.Duration) (audit.Overview, error)
	GetTopKeys(ctx context.Context, window time.Duration, limit int) ([]audit.TopKey, error)
}

// StatsHandler serves the audit statistics endpoints.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a stats API handler. A nil provider (audit
// disabled) answers 503 for every stats request.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// ServeHTTP handles:
// - GET /api/stats/overview
// - GET /api/stats/top-keys
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/api/stats" || path == "/api/stats/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		velocityhttp.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if h.provider == nil {
		velocityhttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit trail disabled"})
		return
	}

	window, err := parseStatsWindow(r, defaultStatsWindow)
	if err != nil {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch path {
	case "/api/stats/overview":
		h.handleOverview(w, r, window)
	case "/api/stats/top-keys":
		h.handleTopKeys(w, r, window)
	default:
		http.NotFound(w, r)
	}
}

func (h *StatsHandler) handleOverview(w http.ResponseWriter, r *http.Request, window time.Duration) {
	result, err := h.provider.GetOverview(r.Context(), window)
	if err != nil {
		velocityhttp.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch overview stats"})
		return
	}

	velocityhttp.WriteJSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *StatsHandler) handleTopKeys(w http.ResponseWriter, r *http.Request, window time.Duration) {
	limit, err := parseLimitQuery(r, defaultLimit, maxLimit)
	if err != nil {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, queryErr := h.provider.GetTopKeys(r.Context(), window, limit)
	if queryErr != nil {
		velocityhttp.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch top keys"})
		return
	}

	velocityhttp.WriteJSON(w, http.StatusOK, map[string]any{"data": result})
}

func parseStatsWindow(r *http.Request, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window_seconds"))
	if raw == "" {
		return fallback, nil
	}

	return parseWindowSeconds(raw)
}

func parseLimitQuery(r *http.Request, fallback, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errBadQuery("limit must be a positive integer")
	}

	if parsed > max {
		return max, nil
	}

	return parsed, nil
}
