package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/medialobby/gateway/internal/observability"
)

// Metrics returns a middleware that records request counts and latencies.
// The route label keeps cardinality bounded by using the matched route
// pattern when the router provides one, falling back to the raw path.
func Metrics(m *observability.Metrics, routePattern func(*http.Request) string) func(http.Handler) http.Handler {
	if routePattern == nil {
		routePattern = func(r *http.Request) string { return r.URL.Path }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			m.ObserveRequest(r.Method, routePattern(r), strconv.Itoa(rw.status), time.Since(start).Seconds())
		})
	}
}
