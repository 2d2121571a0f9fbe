package server

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/medialobby/gateway/internal/observability"
	"github.com/medialobby/gateway/internal/search"
)

// minQueryLength is the shortest accepted search query.
const minQueryLength = 2

// MediaSearch queries the configured indexers for an authenticated user.
// A single failed indexer still yields 200 with the surviving results and a
// message; only a total failure becomes an error status.
func (h *Handlers) MediaSearch(c *gin.Context) {
	if h.requireUser(c) == nil {
		return
	}

	query := strings.TrimSpace(c.Query("query"))
	if utf8.RuneCountInString(query) < minQueryLength {
		jsonError(c, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	mediaType, ok := parseMediaType(c.Query("type"))
	if !ok {
		jsonError(c, http.StatusBadRequest, "type must be movie, series, or empty")
		return
	}

	resp, err := h.searcher.Search(c.Request.Context(), query, mediaType)
	if err != nil {
		h.logger.Error("media search failed",
			observability.String("query", query),
			observability.Error(err),
		)
		jsonError(c, http.StatusInternalServerError, "Media search is unavailable: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, resp)
}

// parseMediaType maps the type query parameter onto an indexer selection.
func parseMediaType(raw string) (search.MediaType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return search.TypeAll, true
	case "movie", "movies", "film":
		return search.TypeMovie, true
	case "series", "show", "tv":
		return search.TypeSeries, true
	}
	return search.TypeAll, false
}
