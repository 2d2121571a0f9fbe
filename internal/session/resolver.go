package session

import (
	"context"
	"time"

	"github.com/medialobby/gateway/internal/observability"
)

// Resolver resolves cookies against the user and admin session stores.
// Every path fails closed: absent stores, unknown tokens, and expired
// records all degrade to unauthenticated rather than erroring.
type Resolver struct {
	users   Store
	admins  Store
	logger  observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// ResolverOption is a functional option for configuring the resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger for the resolver.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithResolverMetrics sets the metrics sink for resolution outcomes.
func WithResolverMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithResolverClock overrides the time source. Used by tests.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver over the two session stores.
func NewResolver(users, admins Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		users:  users,
		admins: admins,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveUser returns the identity for a user session token, or nil when
// the token is empty, unknown, or expired.
func (r *Resolver) ResolveUser(ctx context.Context, token string) *Identity {
	if token == "" {
		r.observe("user", "missing")
		return nil
	}

	rec, err := r.users.Lookup(ctx, token)
	if err != nil || rec == nil || rec.User == nil {
		r.observe("user", "missing")
		return nil
	}
	if !r.now().Before(rec.ExpiresAt) {
		r.logger.Debug("user session expired",
			observability.Time("expires_at", rec.ExpiresAt),
		)
		r.observe("user", "expired")
		return nil
	}

	r.observe("user", "ok")
	return &Identity{
		UserID:   rec.User.UserID,
		Username: rec.User.Username,
		Email:    rec.User.Email,
		IsAdmin:  rec.User.IsAdmin,
	}
}

// ResolveAdmin reports whether the caller holds administrator capability.
// Both stores are consulted unconditionally: a valid user session with the
// admin flag (legacy path) grants it, as does a valid record in the admin
// session store (current path). Failure of either path never masks the
// other.
func (r *Resolver) ResolveAdmin(ctx context.Context, userToken, adminToken string) bool {
	if identity := r.ResolveUser(ctx, userToken); identity != nil && identity.IsAdmin {
		r.observe("admin", "ok")
		return true
	}

	if adminToken == "" {
		r.observe("admin", "missing")
		return false
	}

	rec, err := r.admins.Lookup(ctx, adminToken)
	if err != nil || rec == nil {
		r.observe("admin", "missing")
		return false
	}
	if !r.now().Before(rec.ExpiresAt) {
		r.observe("admin", "expired")
		return false
	}

	r.observe("admin", "ok")
	return true
}

func (r *Resolver) observe(kind, outcome string) {
	if r.metrics != nil {
		r.metrics.IncAuthResolution(kind, outcome)
	}
}
