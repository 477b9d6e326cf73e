package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/booksearch"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "q is required")
		return
	}
	if s.search == nil {
		s.respondError(w, http.StatusServiceUnavailable, "SEARCH_DISABLED", "Search failed. Check your connection or add manually.")
		return
	}

	items, err := s.search.Search(r.Context(), q)
	switch {
	case err == nil:
	case errors.Is(err, booksearch.ErrNoResults):
		s.respondError(w, http.StatusNotFound, "NO_RESULTS", "No books found. Try a different search or add manually.")
		return
	default:
		s.logger.Warn("book search failed", zap.String("q", q), zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "SEARCH_FAILED", "Search failed. Check your connection or add manually.")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
