package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ulink/backend/internal/model/user"
	"github.com/zhouzirui/ulink/backend/pkg/utils"
)

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (user.User, error)
}

type contextKey int

const userKey contextKey = iota

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userKey).(user.User)
	return u, ok
}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u user.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// BearerToken reads the Authorization header, falling back to the "token"
// query parameter used by websocket clients.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := auth.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected unauthenticated request")
				utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok || !u.IsAdmin() {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CanActFor reports whether the caller may read or write data owned by
// ownerID. Admins may act for anyone.
func CanActFor(ctx context.Context, ownerID string) bool {
	u, ok := UserFromContext(ctx)
	if !ok {
		return false
	}
	return u.IsAdmin() || u.ID == ownerID
}
