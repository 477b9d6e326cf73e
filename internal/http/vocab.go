package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/repository"
)

type vocabCreateRequest struct {
	Word       string `json:"word" validate:"required,max=200"`
	Definition string `json:"definition" validate:"required,max=4000"`
	BookRef    string `json:"bookRef"`
	BookTitle  string `json:"bookTitle"`
}

type vocabResponse struct {
	ID         string    `json:"id"`
	Word       string    `json:"word"`
	Definition string    `json:"definition"`
	BookRef    string    `json:"bookRef"`
	BookTitle  string    `json:"bookTitle"`
	CreatedAt  time.Time `json:"createdAt"`
}

type vocabGroup struct {
	Title string          `json:"title"`
	Words []vocabResponse `json:"words"`
}

func toVocabResponse(v domain.VocabWord) vocabResponse {
	return vocabResponse{
		ID:         v.ID,
		Word:       v.Word,
		Definition: v.Definition,
		BookRef:    v.BookRef,
		BookTitle:  v.BookTitle,
		CreatedAt:  v.CreatedAt,
	}
}

func toVocabResponses(words []domain.VocabWord) []vocabResponse {
	out := make([]vocabResponse, 0, len(words))
	for _, w := range words {
		out = append(out, toVocabResponse(w))
	}
	return out
}

func (s *Server) handleListVocab(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filters repository.VocabListFilters
	if ref := strings.TrimSpace(query.Get("book")); ref != "" {
		filters.BookRef = &ref
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}

	words, err := s.repo.Vocab.List(r.Context(), caller(r).user.ID, filters)
	if err != nil {
		s.respondInternal(w, "Failed to list words", err)
		return
	}

	switch query.Get("group") {
	case "":
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"items": toVocabResponses(words)})
	case "book":
		order, groups := repository.GroupByBook(words)
		out := make([]vocabGroup, 0, len(order))
		for _, key := range order {
			out = append(out, vocabGroup{Title: key, Words: toVocabResponses(groups[key])})
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"groups": out})
	default:
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid group value")
	}
}

func (s *Server) handleCreateVocab(w http.ResponseWriter, r *http.Request) {
	var req vocabCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Word = strings.TrimSpace(req.Word)
	req.Definition = strings.TrimSpace(req.Definition)
	if err := validate.Struct(req); err != nil {
		s.respondValidation(w, "Please enter a word and its definition.")
		return
	}

	owner := caller(r).user.ID
	word, err := s.repo.Vocab.Create(r.Context(), owner, repository.VocabCreateParams{
		Word:       req.Word,
		Definition: req.Definition,
		BookRef:    strings.TrimSpace(req.BookRef),
		BookTitle:  strings.TrimSpace(req.BookTitle),
	})
	if err != nil {
		s.respondInternal(w, "Failed to save word. Please try again.", err)
		return
	}
	s.announceVocab(r.Context(), owner)
	s.respondJSON(w, http.StatusCreated, toVocabResponse(word))
}

func (s *Server) handleDeleteVocab(w http.ResponseWriter, r *http.Request) {
	owner := caller(r).user.ID
	if err := s.repo.Vocab.Delete(r.Context(), owner, idParam(r)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondNotFound(w)
			return
		}
		s.respondInternal(w, "Failed to delete word", err)
		return
	}
	s.announceVocab(r.Context(), owner)
	w.WriteHeader(http.StatusNoContent)
}
