// Package session resolves inbound cookies to authenticated identities.
// Tokens are opaque lookup keys into externally-issued session stores;
// the gateway only reads records and validates expiry.
package session

import (
	"context"
	"time"
)

// Cookie names consumed by the gateway.
const (
	UserCookie  = "user_session"
	AdminCookie = "admin_session"
)

// UserSession is a record from the user session store, keyed by its
// opaque token. Owned by the authentication subsystem; read-only here.
type UserSession struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsAdmin   bool      `json:"isAdmin"`
}

// AdminSession is a record from the structurally distinct admin session
// store, issued by the separate admin login flow. Expiry is epoch millis.
type AdminSession struct {
	SessionID string `json:"sessionId"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Identity is the resolved caller identity handed to handlers.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin"`
}

// Record is the backend-agnostic session record the resolver consumes,
// unifying the map-keyed user store and the array-shaped admin store.
type Record struct {
	// Token is the opaque session identifier.
	Token string

	// ExpiresAt is the session expiry instant.
	ExpiresAt time.Time

	// User carries the stored user fields; nil for admin-only sessions.
	User *UserSession
}

// Store is the lookup capability shared by both session backends.
// Implementations fail closed: a missing backing file, an unknown token,
// or malformed state all yield a nil record with no error.
type Store interface {
	Lookup(ctx context.Context, token string) (*Record, error)
}
