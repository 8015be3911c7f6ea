package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
)

// AuthRateLimit guards the credential-exchange endpoints against
// brute-force attempts: a per-IP sliding window on top of the same limiter
// the relay uses per agent.
func AuthRateLimit(limiter *ratelimit.Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RealIP(r)
			if !limiter.Allow("authip:" + ip) {
				logger.Warn().
					Str("ip", ip).
					Str("endpoint", r.URL.Path).
					Msg("auth rate limit exceeded")
				jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
