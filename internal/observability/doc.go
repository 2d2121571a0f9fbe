// Package observability provides logging, metrics, and tracing for the
// media-request portal gateway.
package observability
