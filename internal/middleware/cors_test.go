package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		configured string
		reqOrigin  string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{"wildcard", "*", "https://a.example", http.MethodGet, "https://a.example", http.StatusOK},
		{"wildcard no origin", "*", "", http.MethodGet, "*", http.StatusOK},
		{"exact match", "https://dash.example", "https://dash.example", http.MethodGet, "https://dash.example", http.StatusOK},
		{"list match", "https://a.example, https://b.example", "https://b.example", http.MethodGet, "https://b.example", http.StatusOK},
		{"not allowed", "https://a.example,https://b.example", "https://evil.example", http.MethodGet, "https://a.example", http.StatusOK},
		{"preflight", "*", "https://a.example", http.MethodOptions, "https://a.example", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/stats", nil)
			if tt.reqOrigin != "" {
				req.Header.Set("Origin", tt.reqOrigin)
			}
			rec := httptest.NewRecorder()
			CORS(tt.configured)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}
