package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

var identityKey contextKey

// IdentityFromContext returns the authenticated user id stored by Middleware,
// or the empty string when the request was not authenticated.
func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(string)
	return id
}

// WithIdentity returns a context carrying an authenticated user id. Intended
// for tests and internal call sites that bypass the HTTP middleware.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey, userID)
}

// TokenFromRequest extracts a session token from the Authorization header or,
// for WebSocket handshakes where custom headers are unavailable to browser
// clients, the "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware guards an HTTP handler, resolving the request's session token to
// a user identity before invoking next. Unauthenticated requests get 401.
func (i *Issuer) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, "Unauthorized - no authentication token provided", http.StatusUnauthorized)
			return
		}

		userID, err := i.VerifyToken(token)
		if err != nil {
			http.Error(w, "Unauthorized - invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(WithIdentity(r.Context(), userID)))
	}
}
