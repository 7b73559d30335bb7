package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimiter is satisfied by the Redis cache. Implementations should fail
// open: an unreachable limiter must not take order intake down with it.
type RateLimiter interface {
	AllowRequest(ctx context.Context, clientID string, limit int, window time.Duration) (bool, error)
}

func RateLimitMiddleware(limiter RateLimiter, limit int, window time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, _ := limiter.AllowRequest(r.Context(), ip, limit, window)
			if !allowed {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalRateLimit is the in-process fallback when Redis is not configured.
func LocalRateLimit(limit int, window time.Duration) func(next http.Handler) http.Handler {
	return httprate.LimitByIP(limit, window)
}

// clientIP keeps it simple: RemoteAddr host part.
// Trusting X-Forwarded-For blindly is a spoofing risk; only the reverse proxy
// layer should rewrite client addresses.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
