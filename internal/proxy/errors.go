// Package proxy provides the reverse-proxy forwarding layer of the
// portal gateway.
package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrNoBinding indicates that no service URL binding exists for the
	// requested service name.
	ErrNoBinding = errors.New("no service binding")

	// ErrNoAdminDaemon indicates that the admin daemon base URL is not
	// configured.
	ErrNoAdminDaemon = errors.New("admin daemon not configured")

	// ErrUpstreamUnreachable indicates a network failure talking to the
	// upstream, as opposed to the upstream responding with an error.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// ForwardError is a proxy error carrying operation and target context.
// Target names the logical upstream, never its credential.
type ForwardError struct {
	Op      string
	Target  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s] target=%s: %s: %v",
			e.Op, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] target=%s: %s", e.Op, e.Target, e.Message)
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}

// NewUnreachableError creates an error for an unreachable upstream.
func NewUnreachableError(target string, cause error) *ForwardError {
	return &ForwardError{
		Op:      "forward",
		Target:  target,
		Message: "upstream unreachable",
		Cause:   errors.Join(ErrUpstreamUnreachable, cause),
	}
}

// IsUnreachable checks whether the error indicates an unreachable upstream.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUpstreamUnreachable)
}
