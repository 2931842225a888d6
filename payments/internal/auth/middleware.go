package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/i3lani/paywatch/common/httputil"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// RequireRole returns middleware that admits requests bearing a valid token
// with role.
func (m *TokenManager) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				httputil.WriteErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header")
				return
			}

			claims, err := m.Validate(strings.TrimSpace(parts[1]))
			if err != nil {
				httputil.WriteErrorCode(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			if !claims.HasRole(role) {
				httputil.WriteErrorCode(w, http.StatusForbidden, "forbidden", ErrMissingRole.Error())
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireRole.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// SubjectFromContext returns the authenticated operator, or "" when absent.
func SubjectFromContext(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}
