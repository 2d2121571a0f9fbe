package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/proxy"
)

// AdminProxy forwards the request to the admin daemon with the daemon token
// injected. Both admin-proxy route shapes land here with the same remaining
// path, so the effective upstream URL is identical for either shape.
func (h *Handlers) AdminProxy(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	target, err := h.targets.AdminDaemon()
	if err != nil {
		h.logger.Error("admin daemon not configured",
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Admin daemon is not configured")
		return
	}

	h.forwarder.Forward(c.Writer, c.Request, target, c.Param("path"))
}

// ServiceProxy forwards to a named service resolved from the binding table
// or a SERVICE_URL_<NAME> environment variable. An unknown name 404s before
// any upstream dial.
func (h *Handlers) ServiceProxy(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	name := strings.TrimSpace(c.Param("service"))
	if name == "" {
		jsonError(c, http.StatusBadRequest, "service name is required")
		return
	}

	target, err := h.targets.NamedService(name)
	if err != nil {
		if errors.Is(err, proxy.ErrNoBinding) {
			jsonError(c, http.StatusNotFound, "No service bound for "+name)
			return
		}
		h.logger.Error("service resolution failed",
			observability.String("service", name),
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Unable to resolve service "+name)
		return
	}

	h.forwarder.Forward(c.Writer, c.Request, target, c.Param("path"))
}
