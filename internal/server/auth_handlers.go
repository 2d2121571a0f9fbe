package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/session"
)

// inviteRoute labels rate-limit denial metrics.
const inviteRoute = "/api/auth/verify-invite"

// AuthCheck reports whether the caller holds a live user session. The
// answer is always 200; authentication state rides in the payload.
func (h *Handlers) AuthCheck(c *gin.Context) {
	identity := h.sessions.ResolveUser(c.Request.Context(), cookieValue(c, session.UserCookie))
	if identity == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"username":      identity.Username,
		"userId":        identity.UserID,
	})
}

// UserLogout clears the user session cookie.
func (h *Handlers) UserLogout(c *gin.Context) {
	clearCookie(c, session.UserCookie)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

// AdminLogout clears the admin session cookie.
func (h *Handlers) AdminLogout(c *gin.Context) {
	clearCookie(c, session.AdminCookie)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

// verifyInviteRequest is the POST /api/auth/verify-invite body.
type verifyInviteRequest struct {
	InviteCode string `json:"invite_code"`
}

// VerifyInvite checks an invite code against the invite store, guarded by
// the failed-attempt limiter. Only failed attempts are recorded, so a valid
// code never moves a client toward lockout.
func (h *Handlers) VerifyInvite(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := observability.ClientIDFromContext(ctx)

	result, err := h.limiter.Check(ctx, clientID)
	if err != nil {
		h.logger.Error("attempt limiter check failed",
			observability.String("client_id", clientID),
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Unable to verify invite code")
		return
	}

	if !result.Allowed {
		if h.metrics != nil {
			h.metrics.IncRateLimitDenial(inviteRoute)
		}
		c.Header("Retry-After", strconv.Itoa(result.RetryAfterMinutes*60))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success":           false,
			"message":           result.Message,
			"retryAfterMinutes": result.RetryAfterMinutes,
		})
		return
	}

	var req verifyInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.InviteCode) == "" {
		jsonError(c, http.StatusBadRequest, "invite_code is required")
		return
	}

	valid, err := h.invites.Verify(ctx, req.InviteCode)
	if err != nil {
		h.logger.Error("invite verification failed",
			observability.String("client_id", clientID),
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Unable to verify invite code")
		return
	}

	if !valid {
		if err := h.limiter.Record(ctx, clientID); err != nil {
			h.logger.Error("failed to record invite attempt",
				observability.String("client_id", clientID),
				observability.Error(err),
			)
		}
		h.updateLockoutGauge(c)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Invalid invite code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Invite code accepted"})
}

func (h *Handlers) updateLockoutGauge(c *gin.Context) {
	if h.metrics == nil {
		return
	}
	if count, err := h.limiter.LockedOutCount(c.Request.Context()); err == nil {
		h.metrics.SetLockoutsActive(count)
	}
}

// clearCookie expires a session cookie on the client.
func clearCookie(c *gin.Context, name string) {
	c.SetCookie(name, "", -1, "/", "", false, true)
}
