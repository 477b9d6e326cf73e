package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/rating"
	"github.com/candicemama-blip/thirdshelf/internal/repository"
)

const recentFinishedLimit = 3

var errInvalidDate = errors.New("invalid date")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("bookstatus", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		if raw == "" {
			return true
		}
		_, err := domain.ParseStatus(raw)
		return err == nil
	})
	return v
}

// nullableDate tells an absent field apart from an explicit null.
type nullableDate struct {
	Set   bool
	Value *time.Time
}

func (d *nullableDate) UnmarshalJSON(b []byte) error {
	d.Set = true
	if string(b) == "null" {
		d.Value = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", errInvalidDate, err)
	}
	t, err := parseDate(raw)
	if err != nil {
		return err
	}
	d.Value = t
	return nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errInvalidDate, raw)
}

type bookCreateRequest struct {
	Title       string  `json:"title" validate:"required,max=500"`
	Author      string  `json:"author" validate:"required,max=500"`
	Status      string  `json:"status" validate:"bookstatus"`
	DateStarted *string `json:"dateStarted"`
	Rating      float64 `json:"rating" validate:"gte=0,lte=5"`
	TotalPages  int     `json:"totalPages" validate:"gte=0"`
	PagesRead   int     `json:"pagesRead" validate:"gte=0"`
	CoverURL    string  `json:"coverUrl" validate:"omitempty,url,max=2048"`
	Thoughts    string  `json:"thoughts"`
	DNFReason   string  `json:"dnfReason"`
}

type bookUpdateRequest struct {
	Title        *string      `json:"title"`
	Author       *string      `json:"author"`
	Status       *string      `json:"status"`
	DateStarted  nullableDate `json:"dateStarted"`
	DateFinished nullableDate `json:"dateFinished"`
	Rating       *float64     `json:"rating"`
	TotalPages   *int         `json:"totalPages"`
	PagesRead    *int         `json:"pagesRead"`
	CoverURL     *string      `json:"coverUrl"`
}

type ratingRequest struct {
	Value    *float64         `json:"value"`
	Geometry *rating.Geometry `json:"geometry"`
	ClientX  *float64         `json:"clientX"`
}

type textRequest struct {
	Text string `json:"text"`
}

type bookResponse struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Author       string        `json:"author"`
	Status       string        `json:"status"`
	DateStarted  *time.Time    `json:"dateStarted"`
	DateFinished *time.Time    `json:"dateFinished"`
	Rating       float64       `json:"rating"`
	RatingLabel  string        `json:"ratingLabel"`
	Stars        []rating.Star `json:"stars"`
	TotalPages   int           `json:"totalPages"`
	PagesRead    int           `json:"pagesRead"`
	Progress     float64       `json:"progress"`
	CoverURL     string        `json:"coverUrl"`
	Thoughts     string        `json:"thoughts"`
	DNFReason    string        `json:"dnfReason"`
	AISummary    string        `json:"aiSummary"`
	Themes       []string      `json:"themes"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

type bookListResponse struct {
	Items      []bookResponse `json:"items"`
	NextCursor *string        `json:"nextCursor,omitempty"`
}

type statsResponse struct {
	Total          int64          `json:"total"`
	Reading        int64          `json:"reading"`
	Finished       int64          `json:"finished"`
	WantToRead     int64          `json:"wantToRead"`
	DidNotFinish   int64          `json:"didNotFinish"`
	WordsLearned   int64          `json:"wordsLearned"`
	RecentFinished []bookResponse `json:"recentFinished"`
}

func toBookResponse(b domain.Book) bookResponse {
	stars := rating.Stars(b.Rating)
	themes := b.Themes
	if themes == nil {
		themes = []string{}
	}
	return bookResponse{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Status:       string(b.Status),
		DateStarted:  b.DateStarted,
		DateFinished: b.DateFinished,
		Rating:       b.Rating,
		RatingLabel:  rating.Label(b.Rating),
		Stars:        stars[:],
		TotalPages:   b.TotalPages,
		PagesRead:    b.PagesRead,
		Progress:     b.Progress(),
		CoverURL:     b.CoverURL,
		Thoughts:     b.Thoughts,
		DNFReason:    b.DNFReason,
		AISummary:    b.AISummary,
		Themes:       themes,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func toBookResponses(books []domain.Book) []bookResponse {
	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b))
	}
	return out
}

func buildBookFilters(query url.Values) (repository.BookListFilters, error) {
	var filters repository.BookListFilters

	if val := strings.TrimSpace(query.Get("status")); val != "" {
		status, err := domain.ParseStatus(val)
		if err != nil {
			return filters, fmt.Errorf("invalid status value")
		}
		filters.Status = &status
	}
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := repository.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	filters, err := buildBookFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	result, err := s.repo.Books.List(r.Context(), caller(r).user.ID, filters)
	if err != nil {
		s.respondInternal(w, "Failed to list books", err)
		return
	}
	s.respondJSON(w, http.StatusOK, bookListResponse{Items: toBookResponses(result.Items), NextCursor: result.NextCursor})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req bookCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.CoverURL = strings.TrimSpace(req.CoverURL)

	if err := validate.Struct(req); err != nil {
		s.respondValidation(w, createBookMessage(err))
		return
	}
	started, err := parseOptionalDate(req.DateStarted)
	if err != nil {
		s.respondValidation(w, "dateStarted must be YYYY-MM-DD or RFC 3339")
		return
	}

	status := domain.StatusReading
	if req.Status != "" {
		status = domain.BookStatus(req.Status)
	}

	owner := caller(r).user.ID
	book, err := s.repo.Books.Create(r.Context(), owner, repository.BookCreateParams{
		Title:       req.Title,
		Author:      req.Author,
		Status:      status,
		DateStarted: started,
		Rating:      req.Rating,
		TotalPages:  req.TotalPages,
		PagesRead:   req.PagesRead,
		CoverURL:    req.CoverURL,
		Thoughts:    req.Thoughts,
		DNFReason:   req.DNFReason,
	})
	if err != nil {
		s.respondInternal(w, "Failed to add book. Please try again.", err)
		return
	}
	s.announceBooks(r.Context(), owner)

	w.Header().Set("Location", "/v1/books/"+url.PathEscape(book.ID))
	s.respondJSON(w, http.StatusCreated, toBookResponse(book))
}

func parseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil {
		return nil, nil
	}
	return parseDate(*raw)
}

func createBookMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid book"
	}
	switch fe := verrs[0]; fe.Field() {
	case "Title", "Author":
		if fe.Tag() == "required" {
			return "Please enter a title and author."
		}
		return fmt.Sprintf("%s is too long", strings.ToLower(fe.Field()))
	case "Status":
		return "status must be one of Reading, Finished, Want to Read, Did Not Finish"
	case "Rating":
		return "rating must be between 0 and 5"
	case "TotalPages", "PagesRead":
		return "page counts must be non-negative"
	case "CoverURL":
		return "coverUrl must be a URL"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.repo.Books.Get(r.Context(), caller(r).user.ID, idParam(r))
	if err != nil {
		s.respondBookError(w, "Failed to fetch book", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var req bookUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	update, msg := req.toUpdate()
	if msg != "" {
		s.respondValidation(w, msg)
		return
	}

	owner := caller(r).user.ID
	book, err := s.repo.Books.UpdateMeta(r.Context(), owner, idParam(r), update)
	if err != nil {
		s.respondBookError(w, "Failed to update book. Please try again.", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (req bookUpdateRequest) toUpdate() (repository.BookMetaUpdate, string) {
	update := repository.BookMetaUpdate{
		DateStarted:  repository.OptionalDate{Set: req.DateStarted.Set, Value: req.DateStarted.Value},
		DateFinished: repository.OptionalDate{Set: req.DateFinished.Set, Value: req.DateFinished.Value},
		Rating:       req.Rating,
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return update, "Please enter a title and author."
		}
		update.Title = &title
	}
	if req.Author != nil {
		author := strings.TrimSpace(*req.Author)
		if author == "" {
			return update, "Please enter a title and author."
		}
		update.Author = &author
	}
	if req.Status != nil {
		status, err := domain.ParseStatus(strings.TrimSpace(*req.Status))
		if err != nil {
			return update, "status must be one of Reading, Finished, Want to Read, Did Not Finish"
		}
		update.Status = &status
	}
	if req.TotalPages != nil {
		if *req.TotalPages < 0 {
			return update, "page counts must be non-negative"
		}
		update.TotalPages = req.TotalPages
	}
	if req.PagesRead != nil {
		if *req.PagesRead < 0 {
			return update, "page counts must be non-negative"
		}
		update.PagesRead = req.PagesRead
	}
	if req.CoverURL != nil {
		cover := strings.TrimSpace(*req.CoverURL)
		update.CoverURL = &cover
	}
	return update, ""
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	owner := caller(r).user.ID
	if err := s.repo.Books.Delete(r.Context(), owner, idParam(r)); err != nil {
		s.respondBookError(w, "Failed to delete book. Please try again.", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetRating commits either an explicit value or the value under a
// click at clientX on a surface of the given geometry.
func (s *Server) handleSetRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	var value float64
	switch {
	case req.Value != nil:
		value = rating.Normalize(*req.Value)
	case req.Geometry != nil && req.ClientX != nil:
		if !req.Geometry.Measurable() {
			s.respondValidation(w, "rating surface has no width")
			return
		}
		in := rating.NewInput(0, rating.WithOnChange(func(v float64) { value = v }))
		in.Click(*req.Geometry, *req.ClientX)
	default:
		s.respondValidation(w, "provide value or geometry with clientX")
		return
	}

	owner := caller(r).user.ID
	book, err := s.repo.Books.SetRating(r.Context(), owner, idParam(r), value)
	if err != nil {
		s.respondBookError(w, "Failed to save rating", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleClearRating(w http.ResponseWriter, r *http.Request) {
	owner := caller(r).user.ID
	book, err := s.repo.Books.SetRating(r.Context(), owner, idParam(r), 0)
	if err != nil {
		s.respondBookError(w, "Failed to clear rating", err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleSaveThoughts(w http.ResponseWriter, r *http.Request) {
	s.saveText(w, r, "Failed to save thoughts. Please try again.", s.repo.Books.SaveThoughts)
}

func (s *Server) handleSaveDNFReason(w http.ResponseWriter, r *http.Request) {
	s.saveText(w, r, "Failed to save reason. Please try again.", s.repo.Books.SaveDNFReason)
}

type textSaver func(ctx context.Context, owner, id, text string) (domain.Book, error)

func (s *Server) saveText(w http.ResponseWriter, r *http.Request, failMsg string, save textSaver) {
	var req textRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	owner := caller(r).user.ID
	book, err := save(r.Context(), owner, idParam(r), req.Text)
	if err != nil {
		s.respondBookError(w, failMsg, err)
		return
	}
	s.announceBooks(r.Context(), owner)
	s.respondJSON(w, http.StatusOK, toBookResponse(book))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	owner := caller(r).user.ID
	stats, err := s.repo.Books.Stats(r.Context(), owner)
	if err != nil {
		s.respondInternal(w, "Failed to load stats", err)
		return
	}
	finished := domain.StatusFinished
	recent, err := s.repo.Books.List(r.Context(), owner, repository.BookListFilters{Status: &finished, Limit: recentFinishedLimit})
	if err != nil {
		s.respondInternal(w, "Failed to load stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		Reading:        stats.Reading,
		Finished:       stats.Finished,
		WantToRead:     stats.WantToRead,
		DidNotFinish:   stats.DidNotFinish,
		WordsLearned:   stats.Words,
		RecentFinished: toBookResponses(recent.Items),
	})
}

func (s *Server) respondBookError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		s.respondNotFound(w)
		return
	}
	s.respondInternal(w, msg, err)
}

// announceBooks tells every feed of owner that the book collection changed.
// A failed announcement is logged; the write itself already succeeded.
func (s *Server) announceBooks(ctx context.Context, owner string) {
	if s.books == nil {
		return
	}
	if err := s.books.Publish(ctx, owner); err != nil {
		s.logger.Warn("announce books change", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *Server) announceVocab(ctx context.Context, owner string) {
	if s.vocab == nil {
		return
	}
	if err := s.vocab.Publish(ctx, owner); err != nil {
		s.logger.Warn("announce vocab change", zap.String("owner", owner), zap.Error(err))
	}
}
