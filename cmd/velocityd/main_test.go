package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	healthHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRequireAdminToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		method     string
		header     map[string]string
		wantStatus int
	}{
		{"get passes without token", "secret", http.MethodGet, nil, http.StatusOK},
		{"unconfigured token", "", http.MethodPost, nil, http.StatusForbidden},
		{"missing token", "secret", http.MethodPost, nil, http.StatusUnauthorized},
		{"wrong token", "secret", http.MethodPost, map[string]string{"Authorization": "Bearer nope"}, http.StatusForbidden},
		{"bearer token", "secret", http.MethodPost, map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"x-admin-token header", "secret", http.MethodPost, map[string]string{"X-Admin-Token": "secret"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := requireAdminToken(tt.configured, next)

			req := httptest.NewRequest(tt.method, "/api/counters/increment", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
