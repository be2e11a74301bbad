package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name     string
		token    string
		url      string
		header   string
		expected int
	}{
		{"disabled", "", "/api/status", "", http.StatusOK},
		{"missing", "s3cret", "/api/status", "", http.StatusUnauthorized},
		{"bearer", "s3cret", "/api/status", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "s3cret", "/api/status", "Bearer nope", http.StatusUnauthorized},
		{"query", "s3cret", "/api/live?token=s3cret", "", http.StatusOK},
		{"wrong query", "s3cret", "/api/live?token=s3", "", http.StatusUnauthorized},
		{"basic scheme", "s3cret", "/api/status", "Basic s3cret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			TokenAuthMiddleware(tt.token)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, rec.Code)
			}
		})
	}
}
