package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/metrics"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

type contextKey string

const identityContextKey contextKey = "identity"

// AuthMiddleware verifies bearer access tokens on protected endpoints.
type AuthMiddleware struct {
	tokens *token.Service
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(tokens *token.Service) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth rejects requests without a valid access token in the
// Authorization header. Refresh tokens are rejected here; they are only
// good for POST /auth/refresh.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		ident, err := m.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			metrics.AuthFailures.WithLabelValues("bearer").Inc()
			jsonError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// IdentityFromContext retrieves the authenticated identity from the
// request context.
func IdentityFromContext(ctx context.Context) (token.Identity, bool) {
	ident, ok := ctx.Value(identityContextKey).(token.Identity)
	return ident, ok
}
