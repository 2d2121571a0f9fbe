// Package clientip derives a canonical client identifier from proxy-chain
// headers. The gateway sits behind a reverse proxy it controls, so header
// authenticity is trusted by placement; this is a stated limitation.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// Header names consulted during extraction, in precedence order.
const (
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderXForwardedFor  = "X-Forwarded-For"
	HeaderXRealIP        = "X-Real-IP"
)

// Unknown is returned when no client address can be determined.
const Unknown = "unknown"

// FromRequest returns the canonical client identifier for the request.
// Precedence, first match wins: CF-Connecting-IP, the first entry of
// X-Forwarded-For, X-Real-IP, the transport peer address with the port
// stripped, and finally "unknown".
func FromRequest(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get(HeaderCFConnectingIP)); ip != "" {
		return ip
	}

	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		if ip := firstForwardedEntry(xff); ip != "" {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); ip != "" {
		return ip
	}

	if ip := stripPort(r.RemoteAddr); ip != "" {
		return ip
	}

	return Unknown
}

// firstForwardedEntry returns the first non-empty comma-separated entry.
func firstForwardedEntry(xff string) string {
	for _, part := range strings.Split(xff, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			return ip
		}
	}
	return ""
}

// stripPort removes the port from an address string.
// Handles both IPv4 ("192.168.1.1:8080") and IPv6 ("[::1]:8080") formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// No port present or invalid format, return as-is
		return addr
	}
	return host
}
