package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/storage"
)

// reportIssueRequest is the POST /api/content-issues body.
type reportIssueRequest struct {
	MediaTitle  string `json:"mediaTitle"`
	Description string `json:"description"`
}

// updateIssueRequest is the PUT /api/admin/content-issues body.
type updateIssueRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ReportIssue files a content issue on behalf of an authenticated user.
func (h *Handlers) ReportIssue(c *gin.Context) {
	identity := h.requireUser(c)
	if identity == nil {
		return
	}

	var req reportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		jsonError(c, http.StatusBadRequest, "description is required")
		return
	}

	issue, err := h.issues.Create(c.Request.Context(), req.MediaTitle, req.Description, identity.Username)
	if err != nil {
		h.logger.Error("failed to create content issue",
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Unable to save the report")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "issue": issue})
}

// ListIssues returns all content issues, newest first.
func (h *Handlers) ListIssues(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	issues, err := h.issues.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list content issues",
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Unable to load content issues")
		return
	}

	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// UpdateIssue moves a content issue to a new status.
func (h *Handlers) UpdateIssue(c *gin.Context) {
	if !h.requireAdmin(c) {
		return
	}

	var req updateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		jsonError(c, http.StatusBadRequest, "id and status are required")
		return
	}

	issue, err := h.issues.UpdateStatus(c.Request.Context(), req.ID, storage.IssueStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidStatus):
			jsonError(c, http.StatusBadRequest, "status must be pending, resolved, or dismissed")
		case errors.Is(err, storage.ErrIssueNotFound):
			jsonError(c, http.StatusNotFound, "content issue not found")
		default:
			h.logger.Error("failed to update content issue",
				observability.String("issue_id", req.ID),
				observability.Error(err),
			)
			jsonError(c, http.StatusInternalServerError, "Unable to update the issue")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "issue": issue})
}
