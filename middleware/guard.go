package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/studydeck/accounts"
	"github.com/studydeck/accounts/jwt"
)

type sessionContextKey struct{}

// SessionFromContext returns the claims stored by RequireSession.
func SessionFromContext(ctx context.Context) (*jwt.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey{}).(*jwt.SessionClaims)
	return claims, ok
}

// RequireSession rejects requests without a valid bearer session token.
func RequireSession(engine *accounts.Engine) func(http.Handler) http.Handler {
	return RequireStatus(engine)
}

// RequireStatus is RequireSession that additionally answers 403 unless the
// status recorded in the session is one of allowed. An empty allowed list
// accepts every status.
func RequireStatus(engine *accounts.Engine, allowed ...accounts.UserStatus) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ParseSession(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if len(allowed) > 0 && !slices.Contains(allowed, accounts.UserStatus(claims.Status)) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
