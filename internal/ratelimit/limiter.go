// Package ratelimit implements the credential-attempt limiter with
// escalating lockout used to protect the invite verification endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/ratelimit/store"
)

// Limiter defaults. A client that fails MaxAttempts times inside Window
// is locked out for Lockout, measured from its last recorded attempt.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
	DefaultLockout     = 60 * time.Minute
)

// Result represents the outcome of a limiter check.
type Result struct {
	// Allowed indicates whether the attempt may proceed.
	Allowed bool

	// RetryAfterMinutes is the whole-minute wait before the next attempt
	// is accepted. Zero when Allowed is true.
	RetryAfterMinutes int

	// Message is a client-safe description of the denial.
	Message string
}

// AttemptLimiter tracks failed credential attempts per client identifier
// against a persisted entry set. Check and Record each run a full
// read-modify-write of the set through the store's Update, which holds the
// store lock for the whole cycle so concurrent requests cannot lose
// updates.
type AttemptLimiter struct {
	store       store.Store
	maxAttempts int
	window      time.Duration
	lockout     time.Duration
	logger      observability.Logger
	now         func() time.Time
}

// Option is a functional option for configuring the limiter.
type Option func(*AttemptLimiter)

// WithLogger sets the logger for the limiter.
func WithLogger(logger observability.Logger) Option {
	return func(l *AttemptLimiter) {
		l.logger = logger
	}
}

// WithLimits overrides the attempt threshold, window, and lockout duration.
func WithLimits(maxAttempts int, window, lockout time.Duration) Option {
	return func(l *AttemptLimiter) {
		l.maxAttempts = maxAttempts
		l.window = window
		l.lockout = lockout
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *AttemptLimiter) {
		l.now = now
	}
}

// NewAttemptLimiter creates an attempt limiter over the given store.
func NewAttemptLimiter(s store.Store, opts ...Option) *AttemptLimiter {
	l := &AttemptLimiter{
		store:       s,
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultWindow,
		lockout:     DefaultLockout,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Check reports whether an attempt from clientID may proceed. Expired
// entries are garbage collected as a side effect of the read, and window
// or lockout expiry resets are persisted immediately.
func (l *AttemptLimiter) Check(ctx context.Context, clientID string) (*Result, error) {
	var result *Result
	err := l.store.Update(ctx, func(entries map[string]store.Entry) map[string]store.Entry {
		now := l.now()
		collectExpired(entries, now, l.lockout)

		entry, ok := entries[clientID]
		if !ok {
			result = &Result{Allowed: true}
			return entries
		}

		entry, result = evaluate(entry, now, l.maxAttempts, l.window, l.lockout)
		entries[clientID] = entry
		return entries
	})
	if err != nil {
		return nil, fmt.Errorf("attempt limiter check: %w", err)
	}

	if !result.Allowed {
		l.logger.Info("attempt denied",
			observability.String("client_id", clientID),
			observability.Int("retry_after_minutes", result.RetryAfterMinutes),
		)
	}
	return result, nil
}

// Record registers a failed attempt for clientID, initializing a new entry
// at one attempt or incrementing the existing one. It re-applies window
// expiry independently, so it does not require a preceding Check call.
func (l *AttemptLimiter) Record(ctx context.Context, clientID string) error {
	var attempts int
	err := l.store.Update(ctx, func(entries map[string]store.Entry) map[string]store.Entry {
		now := l.now()
		collectExpired(entries, now, l.lockout)

		entry, ok := entries[clientID]
		switch {
		case !ok:
			entry = store.Entry{
				ClientID:       clientID,
				Attempts:       1,
				FirstAttemptAt: now,
				LastAttemptAt:  now,
			}
		case now.Sub(entry.FirstAttemptAt) > l.window:
			// Window expired: this attempt starts a fresh window.
			entry.Attempts = 1
			entry.FirstAttemptAt = now
			entry.LastAttemptAt = now
		default:
			entry.Attempts++
			entry.LastAttemptAt = now
		}
		entries[clientID] = entry
		attempts = entry.Attempts
		return entries
	})
	if err != nil {
		return fmt.Errorf("attempt limiter record: %w", err)
	}

	l.logger.Debug("attempt recorded",
		observability.String("client_id", clientID),
		observability.Int("attempts", attempts),
	)
	return nil
}

// LockedOutCount returns the number of clients currently at or above the
// attempt threshold. Used for metrics.
func (l *AttemptLimiter) LockedOutCount(ctx context.Context) (int, error) {
	entries, err := l.load(ctx)
	if err != nil {
		return 0, err
	}

	now := l.now()
	count := 0
	for _, e := range entries {
		if e.Attempts >= l.maxAttempts && now.Sub(e.LastAttemptAt) < l.lockout {
			count++
		}
	}
	return count, nil
}

func (l *AttemptLimiter) load(ctx context.Context) (map[string]store.Entry, error) {
	entries, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("attempt limiter load: %w", err)
	}
	return entries, nil
}
