package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{500, "server_error"},
		{503, "server_error"},
		{400, "client_error"},
		{402, "client_error"},
		{499, "client_error"},
		{200, "none"},
		{101, "none"},
		{399, "none"},
		{0, "none"},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"only slashes", "//", "/"},
		{"plain", "/api/credits", "/api/credits"},
		{"query stripped", "/api/usage/summary?days=7", "/api/usage/summary"},
		{"numeric id", "/api/projects/42", "/api/projects/:id"},
		{"negative is not an id", "/api/projects/-42", "/api/projects/-42"},
		{"uuid", "/api/users/550e8400-e29b-41d4-a716-446655440000", "/api/users/:uuid"},
		{"long token", "/api/invite/abcdefghijklmnopqrstuvwxyz1234567", "/api/invite/:token"},
		{"exactly 32 chars kept", "/api/abcdefghijklmnopqrstuvwxyz123456", "/api/abcdefghijklmnopqrstuvwxyz123456"},
		{"four segments", "/a/b/c/d", "/a/b/c/d"},
		{"cut after four", "/a/b/c/d/e/f", "/a/b/c/d"},
		{"double slashes", "/api//credits/", "/api/credits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeRoute(tt.input); got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestErrorHandlerRecordsRequests(t *testing.T) {
	handler := ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics-probe/123", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(apiRequestTotal.WithLabelValues(http.MethodGet, "/metrics-probe/:id", "418")); got != 1 {
		t.Fatalf("requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(apiRequestErrors.WithLabelValues(http.MethodGet, "/metrics-probe/:id", "client_error")); got != 1 {
		t.Fatalf("request_errors_total = %v, want 1", got)
	}
}
