package proxy

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpstreamURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		rawQuery string
		expected string
	}{
		{
			name:     "simple join",
			base:     "http://daemon:8080",
			path:     "/api/status",
			expected: "http://daemon:8080/api/status",
		},
		{
			name:     "trailing slash on base",
			base:     "http://daemon:8080/",
			path:     "/api/status",
			expected: "http://daemon:8080/api/status",
		},
		{
			name:     "path without leading slash",
			base:     "http://daemon:8080",
			path:     "api/status",
			expected: "http://daemon:8080/api/status",
		},
		{
			name:     "query preserved",
			base:     "http://daemon:8080",
			path:     "/search",
			rawQuery: "q=dune&type=movie",
			expected: "http://daemon:8080/search?q=dune&type=movie",
		},
		{
			name:     "empty path",
			base:     "http://daemon:8080",
			path:     "",
			expected: "http://daemon:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildUpstreamURL(tt.base, tt.path, tt.rawQuery))
		})
	}
}

// Both admin-proxy route shapes must yield the same effective URL for the
// same logical path.
func TestBuildUpstreamURL_RouteShapeEquivalence(t *testing.T) {
	catchAll := BuildUpstreamURL("http://daemon:8080", "/api/torrents", "filter=active")
	rewritten := BuildUpstreamURL("http://daemon:8080/", "api/torrents", "filter=active")
	assert.Equal(t, catchAll, rewritten)
}

func TestForwarder_InjectsCredentialAndStripsHost(t *testing.T) {
	var gotHeader http.Header
	var gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotHost = r.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := NewForwarder()
	target := &Target{
		Name:             "admin-daemon",
		BaseURL:          upstream.URL,
		CredentialHeader: "X-Api-Key",
		Credential:       "sekret",
	}

	r := httptest.NewRequest("GET", "http://portal.example/api/admin-proxy/status", nil)
	r.Host = "portal.example"
	r.Header.Set("X-Custom", "keep-me")
	r.Header.Set("Connection", "keep-alive")
	w := httptest.NewRecorder()

	f.Forward(w, r, target, "/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sekret", gotHeader.Get("X-Api-Key"))
	assert.Equal(t, "keep-me", gotHeader.Get("X-Custom"))
	assert.Empty(t, gotHeader.Get("Connection"))
	assert.NotEqual(t, "portal.example", gotHost)
}

func TestForwarder_JSONReencoded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		// Whitespace-heavy body; the relay re-encodes compactly.
		_, _ = w.Write([]byte("{\n  \"value\" :  42\n}"))
	}))
	defer upstream.Close()

	f := NewForwarder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	f.Forward(w, r, &Target{Name: "svc", BaseURL: upstream.URL}, "/x")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"value":42}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestForwarder_NonJSONRelayedOpaque(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("raw body"))
	}))
	defer upstream.Close()

	f := NewForwarder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	f.Forward(w, r, &Target{Name: "svc", BaseURL: upstream.URL}, "/x")

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "raw body", w.Body.String())
}

func TestForwarder_UpstreamErrorStatusRelayedVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"daemon exploded"}`))
	}))
	defer upstream.Close()

	f := NewForwarder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	f.Forward(w, r, &Target{Name: "svc", BaseURL: upstream.URL}, "/x")

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"daemon exploded"}`, w.Body.String())
}

func TestForwarder_UnreachableUpstreamNamesTarget(t *testing.T) {
	f := NewForwarder(WithUpstreamTimeout(time.Second))
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	// Port 1 on localhost refuses connections.
	f.Forward(w, r, &Target{Name: "flicksdb", BaseURL: "http://127.0.0.1:1"}, "/x")

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Contains(t, payload["error"], "flicksdb")
	assert.NotContains(t, payload["error"], "127.0.0.1")
}

func TestForwardErrorClassification(t *testing.T) {
	cause := errors.New("connection refused")
	unreachable := NewUnreachableError("flicksdb", cause)

	assert.True(t, IsUnreachable(unreachable))
	assert.ErrorIs(t, unreachable, ErrUpstreamUnreachable)
	assert.ErrorIs(t, unreachable, cause)
	assert.Contains(t, unreachable.Error(), "flicksdb")

	build := &ForwardError{Op: "request", Target: "flicksdb", Message: "invalid upstream request"}
	assert.False(t, IsUnreachable(build))

	w := httptest.NewRecorder()
	writeForwardError(w, unreachable, "flicksdb")
	assert.Contains(t, w.Body.String(), "Failed to reach flicksdb")

	w = httptest.NewRecorder()
	writeForwardError(w, build, "flicksdb")
	assert.Contains(t, w.Body.String(), "Invalid upstream request for flicksdb")
}

func TestForwarder_BodyOnlyForNonGET(t *testing.T) {
	var gotBodies = map[string]string{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBodies[r.Method] = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	f := NewForwarder()
	target := &Target{Name: "svc", BaseURL: upstream.URL}

	post := httptest.NewRequest("POST", "/x", strings.NewReader("payload"))
	f.Forward(httptest.NewRecorder(), post, target, "/x")

	get := httptest.NewRequest("GET", "/x", strings.NewReader("ignored"))
	f.Forward(httptest.NewRecorder(), get, target, "/x")

	assert.Equal(t, "payload", gotBodies["POST"])
	assert.Empty(t, gotBodies["GET"])
}

func TestForwarder_MalformedJSONDespiteHeaderRelayedRaw(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{broken"))
	}))
	defer upstream.Close()

	f := NewForwarder()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/x", nil)

	f.Forward(w, r, &Target{Name: "svc", BaseURL: upstream.URL}, "/x")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{broken", w.Body.String())
}
