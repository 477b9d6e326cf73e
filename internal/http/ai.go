package httpserver

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/ai"
	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

type summaryResponse struct {
	Summary string       `json:"summary"`
	Book    bookResponse `json:"book"`
}

type themesResponse struct {
	Themes []string     `json:"themes"`
	Book   bookResponse `json:"book"`
}

type suggestionResponse struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Reason string `json:"reason"`
}

// aiBook loads the caller's book for an AI request. It writes the error
// response itself and reports false when the handler should stop.
func (s *Server) aiBook(w http.ResponseWriter, r *http.Request) (domain.Book, bool) {
	if s.assistant == nil {
		s.respondError(w, http.StatusServiceUnavailable, "AI_DISABLED", "AI features are not configured.")
		return domain.Book{}, false
	}
	book, err := s.repo.Books.Get(r.Context(), caller(r).user.ID, idParam(r))
	if err != nil {
		s.respondBookError(w, "Failed to fetch book", err)
		return domain.Book{}, false
	}
	return book, true
}

func (s *Server) respondAIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ai.ErrNoReflections):
		s.respondValidation(w, "Add some reflections first.")
	case errors.Is(err, ai.ErrUnavailable):
		s.logger.Warn("ai request failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, "AI_UNAVAILABLE", "AI unavailable. Check your API key.")
	default:
		s.respondInternal(w, "AI request failed", err)
	}
}

func toAIBook(b domain.Book) ai.Book {
	return ai.Book{Title: b.Title, Author: b.Author, Thoughts: b.Thoughts}
}

func (s *Server) handleAISummary(w http.ResponseWriter, r *http.Request) {
	book, ok := s.aiBook(w, r)
	if !ok {
		return
	}
	summary, err := s.assistant.Summarise(r.Context(), toAIBook(book))
	if err != nil {
		s.respondAIError(w, err)
		return
	}

	owner := caller(r).user.ID
	saved, err := s.repo.Books.SaveAISummary(r.Context(), owner, book.ID, summary)
	if err != nil {
		s.respondBookError(w, "Failed to save summary", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, summaryResponse{Summary: summary, Book: toBookResponse(saved)})
}

func (s *Server) handleAIThemes(w http.ResponseWriter, r *http.Request) {
	book, ok := s.aiBook(w, r)
	if !ok {
		return
	}
	themes, err := s.assistant.ExtractThemes(r.Context(), toAIBook(book))
	if err != nil {
		s.respondAIError(w, err)
		return
	}

	owner := caller(r).user.ID
	saved, err := s.repo.Books.SaveThemes(r.Context(), owner, book.ID, themes)
	if err != nil {
		s.respondBookError(w, "Failed to save themes", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, themesResponse{Themes: themes, Book: toBookResponse(saved)})
}

func (s *Server) handleAISuggestions(w http.ResponseWriter, r *http.Request) {
	book, ok := s.aiBook(w, r)
	if !ok {
		return
	}
	suggestions, err := s.assistant.SuggestBooks(r.Context(), toAIBook(book))
	if err != nil {
		s.respondAIError(w, err)
		return
	}

	items := make([]suggestionResponse, 0, len(suggestions))
	for _, sg := range suggestions {
		items = append(items, suggestionResponse{Title: sg.Title, Author: sg.Author, Reason: sg.Reason})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
