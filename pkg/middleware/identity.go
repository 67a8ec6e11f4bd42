package middleware

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/fulfillment/pkg/errors"
	"github.com/utafrali/fulfillment/pkg/httputil"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// UserIDHeader is set by the gateway after it has authenticated the caller.
const UserIDHeader = "X-User-ID"

// Identity copies the gateway-asserted caller identity into the request
// context. The headers are trusted as-is; nothing is verified here.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
				ctx = context.WithValue(ctx, userIDKey, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects requests that arrive without a caller identity.
func RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserIDFromContext(r.Context()) == "" {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing "+UserIDHeader+" header"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
