package middleware

import (
	"net/http"
	"strings"

	"forward-focus-backend/pkg/ratelimit"
	"forward-focus-backend/pkg/utils"
)

// RateLimitByIP limits requests per client IP using the supplied limiter.
// The limiter is owned by the caller; /health is exempt so probes never 429.
func RateLimitByIP(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIPKey(r)
			allowed, err := limiter.Allow(r.Context(), "ip:"+ip)
			if err != nil {
				// Limiter backend failure should not take the API down
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "60")
				utils.WriteTooManyRequestsResponse(w, "Too many requests, please retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIPKey extracts the first forwarded address, or the socket address
// with its port stripped
func clientIPKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		addr = addr[:idx]
	}
	return addr
}
