package middleware

import (
	"net/http"

	"github.com/medialobby/gateway/internal/clientip"
	"github.com/medialobby/gateway/internal/observability"
)

// ClientID returns a middleware that resolves the caller's client id from
// the proxy headers and attaches it to the request context.
func ClientID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.ContextWithClientID(r.Context(), clientip.FromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
