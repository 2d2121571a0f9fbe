package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/medialobby/gateway/internal/observability"
)

// Headers never written to the access log. Session cookies and upstream
// credentials identify or authenticate a principal.
var sensitiveHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
	"Set-Cookie":    {},
	"X-Api-Key":     {},
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so connection upgrades pass through the
// wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// Logging returns a middleware that writes one structured access-log line
// per request. Sensitive header values are redacted.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			logger.Debug("http request headers",
				observability.String("request_id", observability.RequestIDFromContext(r.Context())),
				observability.Any("headers", RedactHeaders(r.Header)),
			)
			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.status),
				observability.Int("size", rw.size),
				observability.Duration("duration", time.Since(start)),
				observability.String("client_id", observability.ClientIDFromContext(r.Context())),
				observability.String("request_id", observability.RequestIDFromContext(r.Context())),
				observability.String("user_agent", r.UserAgent()),
			)
		})
	}
}

// RedactHeaders returns a copy of h with sensitive values masked, for use
// anywhere headers end up in diagnostics.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if _, sensitive := sensitiveHeaders[http.CanonicalHeaderKey(name)]; sensitive {
			out[name] = []string{"[REDACTED]"}
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
