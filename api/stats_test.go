package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velostore/velocity/audit"
)

type fakeStatsProvider struct {
	overview   audit.Overview
	topKeys    []audit.TopKey
	err        error
	lastWindow time.Duration
	lastLimit  int
}

func (f *fakeStatsProvider) GetOverview(_ context.Context, window time.Duration) (audit.Overview, error) {
	f.lastWindow = window
	return f.overview, f.err
}

func (f *fakeStatsProvider) GetTopKeys(_ context.Context, window time.Duration, limit int) ([]audit.TopKey, error) {
	f.lastWindow = window
	f.lastLimit = limit
	return f.topKeys, f.err
}

func TestStatsOverview(t *testing.T) {
	provider := &fakeStatsProvider{
		overview: audit.Overview{TotalOps: 12, Increments: 10, Queries: 2, UniqueKeys: 4},
	}
	h := NewStatsHandler(provider)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/overview?window_seconds=3600", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if provider.lastWindow != time.Hour {
		t.Fatalf("window = %v, want 1h", provider.lastWindow)
	}
}

func TestStatsTopKeysLimitCapped(t *testing.T) {
	provider := &fakeStatsProvider{topKeys: []audit.TopKey{{Key: "a", Ops: 3}}}
	h := NewStatsHandler(provider)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/top-keys?limit=5000", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if provider.lastLimit != maxLimit {
		t.Fatalf("limit = %d, want capped at %d", provider.lastLimit, maxLimit)
	}
}

func TestStatsProviderError(t *testing.T) {
	h := NewStatsHandler(&fakeStatsProvider{err: errors.New("db down")})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/overview", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestStatsDisabled(t *testing.T) {
	h := NewStatsHandler(nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/overview", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestStatsBadWindow(t *testing.T) {
	h := NewStatsHandler(&fakeStatsProvider{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/overview?window_seconds=nope", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStatsMethodNotAllowed(t *testing.T) {
	h := NewStatsHandler(&fakeStatsProvider{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/stats/overview", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}
