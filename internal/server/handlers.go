package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/proxy"
	"github.com/medialobby/gateway/internal/ratelimit"
	"github.com/medialobby/gateway/internal/search"
	"github.com/medialobby/gateway/internal/session"
	"github.com/medialobby/gateway/internal/storage"
)

// Handlers carries the collaborators behind the HTTP surface.
type Handlers struct {
	limiter   *ratelimit.AttemptLimiter
	sessions  *session.Resolver
	invites   *storage.InviteStore
	issues    *storage.IssueStore
	searcher  *search.Aggregator
	targets   *proxy.Resolver
	forwarder *proxy.Forwarder
	metrics   *observability.Metrics
	logger    observability.Logger
}

// HandlersOption is a functional option for configuring the handlers.
type HandlersOption func(*Handlers)

// WithHandlersLogger sets the logger for the handlers.
func WithHandlersLogger(logger observability.Logger) HandlersOption {
	return func(h *Handlers) {
		h.logger = logger
	}
}

// WithHandlersMetrics sets the metrics recorder for the handlers.
func WithHandlersMetrics(m *observability.Metrics) HandlersOption {
	return func(h *Handlers) {
		h.metrics = m
	}
}

// NewHandlers creates the handler set.
func NewHandlers(
	limiter *ratelimit.AttemptLimiter,
	sessions *session.Resolver,
	invites *storage.InviteStore,
	issues *storage.IssueStore,
	searcher *search.Aggregator,
	targets *proxy.Resolver,
	forwarder *proxy.Forwarder,
	opts ...HandlersOption,
) *Handlers {
	h := &Handlers{
		limiter:   limiter,
		sessions:  sessions,
		invites:   invites,
		issues:    issues,
		searcher:  searcher,
		targets:   targets,
		forwarder: forwarder,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// cookieValue reads a cookie, treating absence as empty.
func cookieValue(c *gin.Context, name string) string {
	value, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return value
}

func jsonError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// requireUser resolves the caller's user session, answering 401 when there
// is none. Returns nil after writing the response.
func (h *Handlers) requireUser(c *gin.Context) *session.Identity {
	identity := h.sessions.ResolveUser(c.Request.Context(), cookieValue(c, session.UserCookie))
	if identity == nil {
		jsonError(c, http.StatusUnauthorized, "Authentication required")
		c.Abort()
		return nil
	}
	return identity
}

// requireAdmin enforces the dual-path admin check: a legacy user session
// flagged isAdmin, or a live admin session, either suffices. A caller with
// a valid user session but no admin capability gets 403; one with no valid
// session at all gets 401.
func (h *Handlers) requireAdmin(c *gin.Context) bool {
	userToken := cookieValue(c, session.UserCookie)
	adminToken := cookieValue(c, session.AdminCookie)

	if h.sessions.ResolveAdmin(c.Request.Context(), userToken, adminToken) {
		return true
	}

	if h.sessions.ResolveUser(c.Request.Context(), userToken) != nil {
		jsonError(c, http.StatusForbidden, "Admin privileges required")
	} else {
		jsonError(c, http.StatusUnauthorized, "Admin authentication required")
	}
	c.Abort()
	return false
}
