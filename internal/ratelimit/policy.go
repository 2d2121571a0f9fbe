package ratelimit

import (
	"fmt"
	"time"

	"github.com/medialobby/gateway/internal/ratelimit/store"
)

// collectExpired drops entries whose last attempt is at least lockout ago.
// Garbage collection is a side effect of every read, not a separate sweep.
func collectExpired(entries map[string]store.Entry, now time.Time, lockout time.Duration) {
	for id, e := range entries {
		if now.Sub(e.LastAttemptAt) >= lockout {
			delete(entries, id)
		}
	}
}

// evaluate applies the lockout and window rules to a single entry and
// returns the possibly-reset entry together with the check result. It is
// a pure function over the snapshot; the caller persists the entry.
func evaluate(entry store.Entry, now time.Time, maxAttempts int, window, lockout time.Duration) (store.Entry, *Result) {
	if entry.Attempts >= maxAttempts {
		elapsed := now.Sub(entry.LastAttemptAt)
		if elapsed < lockout {
			minutes := ceilMinutes(lockout - elapsed)
			return entry, denied(minutes)
		}
		// Lockout expired: treat as a fresh window.
		entry.Attempts = 0
		entry.FirstAttemptAt = now
	}

	if now.Sub(entry.FirstAttemptAt) > window {
		entry.Attempts = 0
		entry.FirstAttemptAt = now
	}

	// Re-check after resets; a still-saturated entry means the lockout
	// clock restarts from the full duration.
	if entry.Attempts >= maxAttempts {
		return entry, denied(ceilMinutes(lockout))
	}

	return entry, &Result{Allowed: true}
}

// denied builds a denial result with a client-safe message.
func denied(minutes int) *Result {
	return &Result{
		Allowed:           false,
		RetryAfterMinutes: minutes,
		Message: fmt.Sprintf(
			"Too many failed attempts. Try again in %d minute(s).", minutes),
	}
}

// ceilMinutes rounds a duration up to whole minutes, never below one.
func ceilMinutes(d time.Duration) int {
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
