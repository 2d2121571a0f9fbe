package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medialobby/gateway/internal/proxy"
	"github.com/medialobby/gateway/internal/ratelimit"
	"github.com/medialobby/gateway/internal/ratelimit/store"
	"github.com/medialobby/gateway/internal/search"
	"github.com/medialobby/gateway/internal/session"
	"github.com/medialobby/gateway/internal/storage"
)

// Cookie tokens seeded into the test session stores.
const (
	userToken        = "user-token"
	legacyAdminToken = "legacy-admin-token"
	expiredToken     = "expired-token"
	adminToken       = "admin-token"
)

type stubIndexer struct {
	name    string
	results []search.Result
	err     error
}

func (s *stubIndexer) Name() string { return s.name }

func (s *stubIndexer) Search(context.Context, string) ([]search.Result, error) {
	return s.results, s.err
}

type fixtureConfig struct {
	adminBase  string
	adminToken string
	envLookup  func(string) (string, bool)
	movies     search.Indexer
	series     search.Indexer
}

type fixture struct {
	handler http.Handler
	issues  *storage.IssueStore
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	dir := t.TempDir()

	now := time.Now()
	users := map[string]session.UserSession{
		userToken: {
			UserID:    "u-1",
			Username:  "alice",
			Email:     "alice@example.com",
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		},
		legacyAdminToken: {
			UserID:    "u-2",
			Username:  "root",
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
			IsAdmin:   true,
		},
		expiredToken: {
			UserID:    "u-3",
			Username:  "ghost",
			CreatedAt: now.Add(-2 * time.Hour),
			ExpiresAt: now.Add(-time.Hour),
		},
	}
	admins := []session.AdminSession{
		{SessionID: adminToken, ExpiresAt: now.Add(time.Hour).UnixMilli()},
	}

	userPath := filepath.Join(dir, "sessions.json")
	adminPath := filepath.Join(dir, "admin-sessions.json")
	writeJSON(t, userPath, users)
	writeJSON(t, adminPath, admins)

	invitesPath := filepath.Join(dir, "invites.json")
	writeJSON(t, invitesPath, []storage.Invite{
		{Code: "WELCOME-2025", Active: true, CreatedAt: now},
		{Code: "RETIRED", Active: false, CreatedAt: now},
	})

	resolver := session.NewResolver(
		session.NewFileUserStore(userPath, nil),
		session.NewFileAdminStore(adminPath, nil),
	)

	limiter := ratelimit.NewAttemptLimiter(store.NewMemoryStore())
	invites := storage.NewInviteStore(invitesPath)
	issues := storage.NewIssueStore(filepath.Join(dir, "issues.json"))

	movies := cfg.movies
	if movies == nil {
		movies = &stubIndexer{name: "flicksdb", results: []search.Result{{ID: "m1", Title: "Dune", Type: "movie"}}}
	}
	series := cfg.series
	if series == nil {
		series = &stubIndexer{name: "episodex", results: []search.Result{{ID: "s1", Title: "Duneworld", Type: "series"}}}
	}
	searcher := search.NewAggregator(movies, series)

	envLookup := cfg.envLookup
	if envLookup == nil {
		envLookup = func(string) (string, bool) { return "", false }
	}
	targets := proxy.NewResolver(cfg.adminBase, cfg.adminToken, "", proxy.WithEnvLookup(envLookup))
	forwarder := proxy.NewForwarder()

	handlers := NewHandlers(limiter, resolver, invites, issues, searcher, targets, forwarder)
	srv := New(&Config{ListenAddr: ":0"}, handlers, nil, nil, nil)

	return &fixture{handler: srv.Handler(), issues: issues}
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

type requestSpec struct {
	method  string
	path    string
	body    string
	cookies map[string]string
	ip      string
}

func (f *fixture) do(t *testing.T, spec requestSpec) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if spec.body != "" {
		body = bytes.NewReader([]byte(spec.body))
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(spec.method, spec.path, body)
	if spec.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ip := spec.ip
	if ip == "" {
		ip = "203.0.113.50"
	}
	req.Header.Set("X-Real-IP", ip)
	for name, value := range spec.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestAuthCheck(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	tests := []struct {
		name          string
		cookies       map[string]string
		authenticated bool
		username      string
	}{
		{name: "no cookie", authenticated: false},
		{name: "valid session", cookies: map[string]string{session.UserCookie: userToken}, authenticated: true, username: "alice"},
		{name: "expired session", cookies: map[string]string{session.UserCookie: expiredToken}, authenticated: false},
		{name: "unknown token", cookies: map[string]string{session.UserCookie: "nope"}, authenticated: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, requestSpec{method: http.MethodGet, path: "/api/auth/check", cookies: tt.cookies})
			require.Equal(t, http.StatusOK, rec.Code)

			payload := decodeBody(t, rec)
			assert.Equal(t, tt.authenticated, payload["authenticated"])
			if tt.username != "" {
				assert.Equal(t, tt.username, payload["username"])
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{method: http.MethodPost, path: "/api/auth/logout"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), session.UserCookie+"=")
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	rec = f.do(t, requestSpec{method: http.MethodPost, path: "/api/admin/logout"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), session.AdminCookie+"=")
}

func TestVerifyInvite(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{
		method: http.MethodPost,
		path:   "/api/auth/verify-invite",
		body:   `{"invite_code":"welcome-2025"}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	rec = f.do(t, requestSpec{
		method: http.MethodPost,
		path:   "/api/auth/verify-invite",
		body:   `{"invite_code":"RETIRED"}`,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestVerifyInviteMissingCode(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{method: http.MethodPost, path: "/api/auth/verify-invite", body: `{}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyInviteLockout(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	for i := 0; i < ratelimit.DefaultMaxAttempts; i++ {
		rec := f.do(t, requestSpec{
			method: http.MethodPost,
			path:   "/api/auth/verify-invite",
			body:   `{"invite_code":"WRONG"}`,
			ip:     "198.51.100.99",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, requestSpec{
		method: http.MethodPost,
		path:   "/api/auth/verify-invite",
		body:   `{"invite_code":"WELCOME-2025"}`,
		ip:     "198.51.100.99",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	payload := decodeBody(t, rec)
	assert.Equal(t, false, payload["success"])
	assert.Greater(t, payload["retryAfterMinutes"], float64(0))

	// Another client is unaffected.
	rec = f.do(t, requestSpec{
		method: http.MethodPost,
		path:   "/api/auth/verify-invite",
		body:   `{"invite_code":"WELCOME-2025"}`,
		ip:     "198.51.100.100",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyInviteSuccessNotRecorded(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	// Four failures, then successes stay allowed indefinitely: a valid code
	// must never count toward the lockout threshold.
	for i := 0; i < ratelimit.DefaultMaxAttempts-1; i++ {
		f.do(t, requestSpec{
			method: http.MethodPost,
			path:   "/api/auth/verify-invite",
			body:   `{"invite_code":"WRONG"}`,
			ip:     "198.51.100.42",
		})
	}

	for i := 0; i < 3; i++ {
		rec := f.do(t, requestSpec{
			method: http.MethodPost,
			path:   "/api/auth/verify-invite",
			body:   `{"invite_code":"WELCOME-2025"}`,
			ip:     "198.51.100.42",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])
	}
}

func TestMediaSearch(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	tests := []struct {
		name     string
		path     string
		cookies  map[string]string
		wantCode int
	}{
		{name: "unauthenticated", path: "/api/media/search?query=dune", wantCode: http.StatusUnauthorized},
		{name: "query too short", path: "/api/media/search?query=d", cookies: map[string]string{session.UserCookie: userToken}, wantCode: http.StatusBadRequest},
		{name: "unknown type", path: "/api/media/search?query=dune&type=podcast", cookies: map[string]string{session.UserCookie: userToken}, wantCode: http.StatusBadRequest},
		{name: "untyped search", path: "/api/media/search?query=dune", cookies: map[string]string{session.UserCookie: userToken}, wantCode: http.StatusOK},
		{name: "movie filter", path: "/api/media/search?query=dune&type=movie", cookies: map[string]string{session.UserCookie: userToken}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, requestSpec{method: http.MethodGet, path: tt.path, cookies: tt.cookies})
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestMediaSearchPartialFailure(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		movies: &stubIndexer{name: "flicksdb", results: []search.Result{
			{ID: "m1", Title: "Dune", Type: "movie"},
			{ID: "m2", Title: "Dune Part Two", Type: "movie"},
		}},
		series: &stubIndexer{name: "episodex", err: errors.New("episodex unreachable")},
	})

	rec := f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/media/search?query=dune",
		cookies: map[string]string{session.UserCookie: userToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
	assert.Contains(t, resp.Message, "episodex")
}

func TestMediaSearchTotalFailure(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		movies: &stubIndexer{name: "flicksdb", err: errors.New("flicksdb unreachable")},
		series: &stubIndexer{name: "episodex", err: errors.New("episodex unreachable")},
	})

	rec := f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/media/search?query=dune",
		cookies: map[string]string{session.UserCookie: userToken},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminProxyForwardsWithToken(t *testing.T) {
	var gotPath, gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	f := newFixture(t, fixtureConfig{adminBase: upstream.URL, adminToken: "daemon-secret"})

	for _, shape := range []string{"/api/admin-proxy/status/queue", "/api/admin-proxy-proxy/status/queue"} {
		rec := f.do(t, requestSpec{
			method:  http.MethodGet,
			path:    shape,
			cookies: map[string]string{session.AdminCookie: adminToken},
		})
		require.Equal(t, http.StatusOK, rec.Code, shape)
		assert.Equal(t, "/status/queue", gotPath, "both route shapes hit the same upstream path")
		assert.Equal(t, "daemon-secret", gotKey)
	}
}

func TestAdminProxyAuth(t *testing.T) {
	f := newFixture(t, fixtureConfig{adminBase: "http://daemon.invalid"})

	tests := []struct {
		name     string
		cookies  map[string]string
		wantCode int
	}{
		{name: "no session", wantCode: http.StatusUnauthorized},
		{name: "plain user", cookies: map[string]string{session.UserCookie: userToken}, wantCode: http.StatusForbidden},
		{name: "expired user", cookies: map[string]string{session.UserCookie: expiredToken}, wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, requestSpec{method: http.MethodGet, path: "/api/admin-proxy/status", cookies: tt.cookies})
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestAdminProxyWebSocketPassthrough(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	var gotKey string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, msg); err != nil {
				return
			}
		}
	}))
	defer backend.Close()

	f := newFixture(t, fixtureConfig{adminBase: backend.URL, adminToken: "daemon-secret"})

	// The upgrade has to survive the full middleware chain, so dial a real
	// listener serving the assembled handler rather than the engine alone.
	front := httptest.NewServer(f.handler)
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/api/admin-proxy/stream"
	header := http.Header{"Cookie": {session.AdminCookie + "=" + adminToken}}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	require.NoError(t, err, "websocket handshake through the assembled handler")
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(msg))
	assert.Equal(t, "daemon-secret", gotKey)
}

func TestAdminProxyUnconfiguredDaemon(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/admin-proxy/status",
		cookies: map[string]string{session.AdminCookie: adminToken},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestServiceProxy(t *testing.T) {
	var gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"service":"transcoder"}`))
	}))
	defer upstream.Close()

	f := newFixture(t, fixtureConfig{
		envLookup: func(key string) (string, bool) {
			if key == "SERVICE_URL_TRANSCODER" {
				return upstream.URL, true
			}
			return "", false
		},
	})

	// Legacy isAdmin user sessions authorize the named-service proxy too.
	rec := f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/proxy/transcoder",
		cookies: map[string]string{session.UserCookie: legacyAdminToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"transcoder"}`, rec.Body.String())
	assert.Empty(t, gotKey, "named services get no admin token")
}

func TestServiceProxyErrors(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{method: http.MethodGet, path: "/api/proxy/transcoder"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown binding 404s without any dial.
	rec = f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/proxy/transcoder",
		cookies: map[string]string{session.AdminCookie: adminToken},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "transcoder")
}

func TestContentIssuesRoundTrip(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{
		method:  http.MethodPost,
		path:    "/api/content-issues",
		body:    `{"mediaTitle":"Dune","description":"audio drops at 00:31"}`,
		cookies: map[string]string{session.UserCookie: userToken},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	issue, ok := decodeBody(t, rec)["issue"].(map[string]interface{})
	require.True(t, ok)
	id, _ := issue["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "alice", issue["reportedBy"])

	rec = f.do(t, requestSpec{
		method:  http.MethodPut,
		path:    "/api/admin/content-issues",
		body:    `{"id":"` + id + `","status":"resolved"}`,
		cookies: map[string]string{session.AdminCookie: adminToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, requestSpec{
		method:  http.MethodGet,
		path:    "/api/admin/content-issues",
		cookies: map[string]string{session.AdminCookie: adminToken},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Issues []storage.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Issues, 1)
	assert.Equal(t, storage.IssueResolved, listing.Issues[0].Status)
}

func TestContentIssuesValidation(t *testing.T) {
	f := newFixture(t, fixtureConfig{})
	adminCookies := map[string]string{session.AdminCookie: adminToken}

	tests := []struct {
		name     string
		spec     requestSpec
		wantCode int
	}{
		{
			name:     "report requires auth",
			spec:     requestSpec{method: http.MethodPost, path: "/api/content-issues", body: `{"description":"broken"}`},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "report requires description",
			spec: requestSpec{
				method:  http.MethodPost,
				path:    "/api/content-issues",
				body:    `{"mediaTitle":"Dune"}`,
				cookies: map[string]string{session.UserCookie: userToken},
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "list requires admin",
			spec:     requestSpec{method: http.MethodGet, path: "/api/admin/content-issues", cookies: map[string]string{session.UserCookie: userToken}},
			wantCode: http.StatusForbidden,
		},
		{
			name:     "update rejects unknown status",
			spec:     requestSpec{method: http.MethodPut, path: "/api/admin/content-issues", body: `{"id":"x","status":"archived"}`, cookies: adminCookies},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "update 404s on unknown id",
			spec:     requestSpec{method: http.MethodPut, path: "/api/admin/content-issues", body: `{"id":"missing","status":"resolved"}`, cookies: adminCookies},
			wantCode: http.StatusNotFound,
		},
		{
			name:     "update requires id",
			spec:     requestSpec{method: http.MethodPut, path: "/api/admin/content-issues", body: `{"status":"resolved"}`, cookies: adminCookies},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.spec)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRoutePattern(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/admin-proxy/status/queue", want: "/api/admin-proxy/*path"},
		{path: "/api/admin-proxy-proxy/status/queue", want: "/api/admin-proxy-proxy/*path"},
		{path: "/api/proxy/transcoder", want: "/api/proxy/:service"},
		{path: "/api/auth/check", want: "/api/auth/check"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		assert.Equal(t, tt.want, routePattern(req), tt.path)
	}
}

func TestServerStartStop(t *testing.T) {
	srv := New(&Config{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}, NewHandlers(nil, nil, nil, nil, nil, nil, nil), nil, nil, nil)

	require.NoError(t, srv.Start())
	assert.Error(t, srv.Start(), "second start must fail while running")
	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()), "stop is idempotent")
}

func TestUnknownRoute404s(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.do(t, requestSpec{method: http.MethodGet, path: "/api/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "panic"))
}
