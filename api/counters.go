// Package api exposes the ops/debug HTTP surface of the counting layer:
// counter lookups and increments, audit read models, and a live event
// stream for dashboards. The rule-evaluation pipeline itself calls the
// library in-process; these endpoints exist for operators and tooling.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	velocityhttp "github.com/velostore/velocity/internal/httputil"
)

// WindowCounter exposes the counter operations required by the API.
type WindowCounter interface {
	Increment(ctx context.Context, key string, window, maxTTL time.Duration) int64
	Query(ctx context.Context, key string, window time.Duration) int64
}

// CountersHandler serves counter lookups and increments.
type CountersHandler struct {
	counter WindowCounter
	observe func(CounterEvent)
}

// NewCountersHandler creates the counters API handler. observe, when not
// nil, is invoked with every operation performed through the API so the
// daemon can feed the audit trail and the live stream.
func NewCountersHandler(counter WindowCounter, observe func(CounterEvent)) *CountersHandler {
	return &CountersHandler{counter: counter, observe: observe}
}

// ServeHTTP handles:
// - GET  /api/counters?key=...&window_seconds=...
// - POST /api/counters/increment
func (h *CountersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.counter == nil {
		velocityhttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "counter unavailable"})
		return
	}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/api/counters":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			velocityhttp.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		h.handleQuery(w, r)
	case "/api/counters/increment":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			velocityhttp.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		h.handleIncrement(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *CountersHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}

	window, err := parseWindowSeconds(r.URL.Query().Get("window_seconds"))
	if err != nil {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	count := h.counter.Query(r.Context(), key, window)
	h.publish(CounterEvent{
		Timestamp:     time.Now().UTC(),
		Op:            "query",
		Key:           key,
		WindowSeconds: window.Seconds(),
		Count:         count,
	})

	velocityhttp.WriteJSON(w, http.StatusOK, map[string]any{
		"key":            key,
		"window_seconds": window.Seconds(),
		"count":          count,
	})
}

type incrementRequest struct {
	Key           string  `json:"key"`
	WindowSeconds float64 `json:"window_seconds"`
	MaxTTLSeconds float64 `json:"max_ttl_seconds"`
}

func (h *CountersHandler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}
	if req.WindowSeconds <= 0 {
		velocityhttp.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "window_seconds must be a positive number"})
		return
	}

	window := secondsToDuration(req.WindowSeconds)
	maxTTL := secondsToDuration(req.MaxTTLSeconds)

	count := h.counter.Increment(r.Context(), req.Key, window, maxTTL)
	h.publish(CounterEvent{
		Timestamp:     time.Now().UTC(),
		Op:            "increment",
		Key:           req.Key,
		WindowSeconds: window.Seconds(),
		Count:         count,
	})

	velocityhttp.WriteJSON(w, http.StatusOK, map[string]any{
		"key":            req.Key,
		"window_seconds": window.Seconds(),
		"count":          count,
	})
}

func (h *CountersHandler) publish(event CounterEvent) {
	if h.observe != nil {
		h.observe(event)
	}
}

func parseWindowSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errBadQuery("window_seconds is required")
	}

	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return 0, errBadQuery("window_seconds must be a positive number")
	}

	return secondsToDuration(parsed), nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

type badQueryError struct {
	message string
}

func (e badQueryError) Error() string {
	return e.message
}

func errBadQuery(message string) error {
	return badQueryError{message: message}
}
