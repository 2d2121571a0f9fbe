package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/medialobby/gateway/internal/observability"
)

// DefaultUpstreamTimeout bounds each upstream call so a hung backend
// cannot hang the gateway.
const DefaultUpstreamTimeout = 30 * time.Second

// hopHeaders are headers that should not be forwarded. Accept-Encoding is
// also stripped so the transport negotiates its own compression and the
// JSON re-encoding path always sees plain bytes.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Accept-Encoding",
}

// Forwarder relays authenticated requests to upstream targets, injecting
// the target credential and re-encoding JSON responses.
type Forwarder struct {
	client  *http.Client
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	timeout time.Duration
}

// ForwarderOption is a functional option for configuring the forwarder.
type ForwarderOption func(*Forwarder)

// WithForwarderLogger sets the logger for the forwarder.
func WithForwarderLogger(logger observability.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) ForwarderOption {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithUpstreamTimeout sets the per-call upstream timeout.
func WithUpstreamTimeout(timeout time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.timeout = timeout
	}
}

// WithForwarderMetrics sets the metrics sink for upstream observations.
func WithForwarderMetrics(m *observability.Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithForwarderTracer sets the tracer for upstream spans.
func WithForwarderTracer(t *observability.Tracer) ForwarderOption {
	return func(f *Forwarder) {
		f.tracer = t
	}
}

// NewForwarder creates a forwarder.
func NewForwarder(opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		client:  &http.Client{},
		logger:  observability.NopLogger(),
		timeout: DefaultUpstreamTimeout,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward relays the request to target at upstreamPath and writes the
// upstream response back to w. The upstream status is propagated
// verbatim; only a network-level failure synthesizes a 500 naming the
// target. The upstream call shares the inbound request context, so a
// client disconnect aborts it.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, target *Target, upstreamPath string) {
	if websocket.IsWebSocketUpgrade(r) {
		f.forwardWebSocket(w, r, target, upstreamPath)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	if f.tracer != nil {
		var span trace.Span
		ctx, span = f.tracer.StartUpstreamSpan(ctx, target.Name)
		defer span.End()
	}

	upstreamURL := BuildUpstreamURL(target.BaseURL, upstreamPath, r.URL.RawQuery)

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, body)
	if err != nil {
		ferr := &ForwardError{Op: "request", Target: target.Name, Message: "invalid upstream request", Cause: err}
		f.logger.Error("failed to build upstream request",
			observability.Error(ferr),
		)
		writeForwardError(w, ferr, target.Name)
		return
	}

	copyInboundHeaders(req.Header, r.Header)
	if target.CredentialHeader != "" {
		req.Header.Set(target.CredentialHeader, target.Credential)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		f.observe(target.Name, "unreachable", elapsed)
		ferr := NewUnreachableError(target.Name, err)
		f.logger.Error("upstream unreachable",
			observability.String("url", upstreamURL),
			observability.Error(ferr),
		)
		writeForwardError(w, ferr, target.Name)
		return
	}
	defer resp.Body.Close()

	outcome := "relayed"
	if resp.StatusCode >= http.StatusInternalServerError {
		outcome = "error"
	}
	f.observe(target.Name, outcome, elapsed)

	f.relayResponse(w, resp, target)
}

// relayResponse writes the upstream response to the client. JSON bodies
// are decoded and re-encoded; everything else is relayed opaquely.
func (f *Forwarder) relayResponse(w http.ResponseWriter, resp *http.Response, target *Target) {
	copyResponseHeaders(w.Header(), resp.Header)

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			f.logger.Warn("response relay interrupted",
				observability.String("target", target.Name),
				observability.Error(err),
			)
		}
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Warn("failed to read upstream body",
			observability.String("target", target.Name),
			observability.Error(err),
		)
		w.WriteHeader(resp.StatusCode)
		return
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Declared JSON but not parseable; relay the bytes untouched.
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(raw)
		return
	}

	encoded, err := json.Marshal(decoded)
	if err != nil {
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(raw)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(encoded)
}

func (f *Forwarder) observe(target, outcome string, elapsed time.Duration) {
	if f.metrics != nil {
		f.metrics.ObserveUpstream(target, outcome, elapsed.Seconds())
	}
}

// BuildUpstreamURL joins a base URL with the remaining request path and
// query. Both admin-proxy route shapes pass through here, so the same
// logical path always yields the same effective upstream URL.
func BuildUpstreamURL(base, path, rawQuery string) string {
	base = strings.TrimRight(base, "/")
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// copyInboundHeaders copies request headers minus hop-by-hop ones. The
// Host header is carried outside Header in net/http and is deliberately
// not forwarded.
func copyInboundHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// copyResponseHeaders copies upstream response headers minus hop-by-hop
// and length headers, which the relay recomputes.
func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) || strings.EqualFold(k, "Content-Length") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// writeForwardError maps a forwarding failure onto the client response.
// An unreachable upstream names the target; everything else stays generic.
func writeForwardError(w http.ResponseWriter, err error, target string) {
	if IsUnreachable(err) {
		writeJSONError(w, http.StatusInternalServerError, "Failed to reach "+target)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "Invalid upstream request for "+target)
}

// writeJSONError writes a JSON error payload with the given status.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(map[string]string{"error": message})
	_, _ = w.Write(body)
}
