// Package health provides health and readiness probe endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// HealthResponse is the liveness probe payload.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check is one readiness check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs one readiness check.
type CheckFunc func() Check

// Checker aggregates readiness checks and serves the probe endpoints.
type Checker struct {
	version   string
	startTime time.Time
	checks    map[string]CheckFunc
	mu        sync.RWMutex
}

// NewChecker creates a checker reporting the given version.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a readiness check under name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every registered check and folds the worst outcome into
// the overall status.
func (c *Checker) Readiness() ReadinessResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check),
		Timestamp: time.Now(),
	}

	for name, checkFunc := range c.checks {
		check := checkFunc()
		response.Checks[name] = check

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// HealthHandler returns the liveness endpoint handler.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(c.Health())
	}
}

// ReadinessHandler returns the readiness endpoint handler. Unhealthy maps
// to 503 so orchestrators pull the instance from rotation.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response := c.Readiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(response)
	}
}

// DataDirCheck verifies that the directory holding a persisted data file is
// writable. Unwritable state files break lockout persistence quietly, so
// surface it through readiness instead.
func DataDirCheck(path string) CheckFunc {
	return func() Check {
		dir := filepath.Dir(path)

		info, err := os.Stat(dir)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: "data directory missing: " + dir}
		}
		if !info.IsDir() {
			return Check{Status: StatusUnhealthy, Message: dir + " is not a directory"}
		}

		probe, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: "data directory not writable: " + dir}
		}
		name := probe.Name()
		probe.Close()
		os.Remove(name)

		return Check{Status: StatusHealthy}
	}
}

// FileReadableCheck reports degraded when the file exists but cannot be
// read. Absence is healthy: every store treats a missing file as empty.
func FileReadableCheck(path string) CheckFunc {
	return func() Check {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Check{Status: StatusHealthy}
			}
			return Check{Status: StatusDegraded, Message: "cannot read " + path}
		}
		f.Close()
		return Check{Status: StatusHealthy}
	}
}
