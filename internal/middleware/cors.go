package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the configured origin. origin may be "*" or a comma-separated
// list of exact origins.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			allowed := origin

			if reqOrigin != "" && isAllowed(reqOrigin, origin) {
				allowed = reqOrigin
				w.Header().Add("Vary", "Origin")
			} else if origin != "*" {
				allowed = firstOrigin(origin)
			}

			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowed(reqOrigin, configured string) bool {
	if configured == "*" {
		return true
	}
	for _, o := range strings.Split(configured, ",") {
		if strings.TrimSpace(o) == reqOrigin {
			return true
		}
	}
	return false
}

func firstOrigin(configured string) string {
	first, _, _ := strings.Cut(configured, ",")
	return strings.TrimSpace(first)
}
