// Package store provides persistence backends for the attempt limiter.
package store

import (
	"context"
	"time"
)

// Entry is a persisted attempt record for one client identifier.
type Entry struct {
	ClientID       string    `json:"clientId"`
	Attempts       int       `json:"attempts"`
	FirstAttemptAt time.Time `json:"firstAttemptAt"`
	LastAttemptAt  time.Time `json:"lastAttemptAt"`
}

// Store is the read-all/write-all persistence port for attempt records.
// Mutations go through Update, which runs the full read-modify-write cycle
// under the store's own lock so concurrent requests cannot lose updates.
type Store interface {
	// Load returns the full entry set keyed by client identifier.
	// An absent backing file yields an empty set, not an error.
	Load(ctx context.Context) (map[string]Entry, error)

	// Save replaces the full entry set.
	Save(ctx context.Context, entries map[string]Entry) error

	// Update applies fn to the entry set and persists the result, all
	// under the store's lock.
	Update(ctx context.Context, fn func(map[string]Entry) map[string]Entry) error

	// Close releases any resources held by the store.
	Close() error
}
