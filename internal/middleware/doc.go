// Package middleware provides HTTP middleware for the portal gateway.
package middleware
