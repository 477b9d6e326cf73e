package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
	"github.com/candicemama-blip/thirdshelf/internal/rating"
)

// BooksRepository provides persistence helpers for shelf entries. Every
// query is scoped to the owning user.
type BooksRepository struct {
	pool *pgxpool.Pool
}

const bookColumns = `
    id,
    created_by,
    title,
    author,
    status,
    date_started,
    date_finished,
    rating,
    total_pages,
    pages_read,
    cover_url,
    thoughts,
    dnf_reason,
    ai_summary,
    themes,
    created_at,
    updated_at
`

// BookCreateParams bundles the fields accepted when adding a book.
type BookCreateParams struct {
	Title       string
	Author      string
	Status      domain.BookStatus
	DateStarted *time.Time
	Rating      float64
	TotalPages  int
	PagesRead   int
	CoverURL    string
	Thoughts    string
	DNFReason   string
}

// OptionalDate distinguishes "leave unchanged" from "set to null".
type OptionalDate struct {
	Set   bool
	Value *time.Time
}

// BookMetaUpdate is a partial update of objective book fields.
type BookMetaUpdate struct {
	Title        *string
	Author       *string
	Status       *domain.BookStatus
	DateStarted  OptionalDate
	DateFinished OptionalDate
	Rating       *float64
	TotalPages   *int
	PagesRead    *int
	CoverURL     *string
}

// Empty reports whether the update touches no column.
func (u BookMetaUpdate) Empty() bool {
	return u.Title == nil && u.Author == nil && u.Status == nil && !u.DateStarted.Set &&
		!u.DateFinished.Set && u.Rating == nil && u.TotalPages == nil && u.PagesRead == nil && u.CoverURL == nil
}

// BookListFilters encapsulates status filtering and pagination.
type BookListFilters struct {
	Status *domain.BookStatus
	Query  *string
	Limit  int
	Cursor *BookCursor
}

// BookCursor allows stable pagination by created_at/id.
type BookCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// BookListResult returns the paginated payload.
type BookListResult struct {
	Items      []domain.Book
	NextCursor *string
}

// Create inserts a new book for owner. The finish date always starts empty.
func (r *BooksRepository) Create(ctx context.Context, owner string, params BookCreateParams) (domain.Book, error) {
	if params.Status == "" {
		params.Status = domain.StatusReading
	}
	query := fmt.Sprintf(`
        INSERT INTO books (created_by, title, author, status, date_started, rating, total_pages, pages_read, cover_url, thoughts, dnf_reason)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING %s
    `, bookColumns)

	row := r.pool.QueryRow(ctx, query, owner, params.Title, params.Author, string(params.Status), params.DateStarted,
		rating.Normalize(params.Rating), params.TotalPages, params.PagesRead, params.CoverURL, params.Thoughts, params.DNFReason)
	return scanBook(row)
}

// Get fetches one of owner's books.
func (r *BooksRepository) Get(ctx context.Context, owner, id string) (domain.Book, error) {
	if !validID(id) {
		return domain.Book{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM books WHERE id = $1 AND created_by = $2`, bookColumns)
	return notFound(scanBook(r.pool.QueryRow(ctx, query, id, owner)))
}

// Snapshot returns all of owner's books, newest first.
func (r *BooksRepository) Snapshot(ctx context.Context, owner string) ([]domain.Book, error) {
	query := fmt.Sprintf(`SELECT %s FROM books WHERE created_by = $1 ORDER BY created_at DESC, id DESC`, bookColumns)
	rows, err := r.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBooks(rows)
}

// List returns owner's books that match the provided filters, newest first.
func (r *BooksRepository) List(ctx context.Context, owner string, filters BookListFilters) (BookListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	} else if filters.Limit > 100 {
		filters.Limit = 100
	}

	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	where := []string{fmt.Sprintf("created_by = %s", arg(owner))}

	if filters.Status != nil {
		where = append(where, fmt.Sprintf("status = %s", arg(string(*filters.Status))))
	}
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		q := "%" + strings.TrimSpace(*filters.Query) + "%"
		p := arg(q)
		where = append(where, fmt.Sprintf("(title ILIKE %s OR author ILIKE %s)", p, p))
	}
	if filters.Cursor != nil {
		cursorCreated := arg(filters.Cursor.CreatedAt)
		cursorID := arg(filters.Cursor.ID)
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s::uuid)", cursorCreated, cursorID))
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(bookColumns)
	queryBuilder.WriteString(" FROM books WHERE ")
	queryBuilder.WriteString(strings.Join(where, " AND "))
	queryBuilder.WriteString(" ORDER BY created_at DESC, id DESC")
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d", filters.Limit))

	rows, err := r.pool.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return BookListResult{}, err
	}
	defer rows.Close()

	items, err := collectBooks(rows)
	if err != nil {
		return BookListResult{}, err
	}

	var nextCursor *string
	if len(items) == filters.Limit {
		last := items[len(items)-1]
		token, err := encodeCursor(BookCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return BookListResult{}, err
		}
		nextCursor = &token
	}

	return BookListResult{Items: items, NextCursor: nextCursor}, nil
}

// UpdateMeta applies a partial update of objective fields. Moving a book to
// Finished stamps date_finished unless the update sets it explicitly.
func (r *BooksRepository) UpdateMeta(ctx context.Context, owner, id string, update BookMetaUpdate) (domain.Book, error) {
	if !validID(id) {
		return domain.Book{}, ErrNotFound
	}
	if update.Empty() {
		return r.Get(ctx, owner, id)
	}

	args := []interface{}{id, owner}
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	set := make([]string, 0, 10)

	if update.Title != nil {
		set = append(set, "title = "+arg(*update.Title))
	}
	if update.Author != nil {
		set = append(set, "author = "+arg(*update.Author))
	}
	if update.Status != nil {
		set = append(set, "status = "+arg(string(*update.Status)))
		if *update.Status == domain.StatusFinished && !update.DateFinished.Set {
			set = append(set, "date_finished = COALESCE(date_finished, now())")
		}
	}
	if update.DateStarted.Set {
		set = append(set, "date_started = "+arg(update.DateStarted.Value))
	}
	if update.DateFinished.Set {
		set = append(set, "date_finished = "+arg(update.DateFinished.Value))
	}
	if update.Rating != nil {
		set = append(set, "rating = "+arg(rating.Normalize(*update.Rating)))
	}
	if update.TotalPages != nil {
		set = append(set, "total_pages = "+arg(*update.TotalPages))
	}
	if update.PagesRead != nil {
		set = append(set, "pages_read = "+arg(*update.PagesRead))
	}
	if update.CoverURL != nil {
		set = append(set, "cover_url = "+arg(*update.CoverURL))
	}
	set = append(set, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE books SET %s WHERE id = $1 AND created_by = $2 RETURNING %s`,
		strings.Join(set, ", "), bookColumns)
	return notFound(scanBook(r.pool.QueryRow(ctx, query, args...)))
}

// SetRating stores a normalized rating.
func (r *BooksRepository) SetRating(ctx context.Context, owner, id string, value float64) (domain.Book, error) {
	return r.setColumn(ctx, owner, id, "rating", rating.Normalize(value))
}

// SaveThoughts stores the free-text reflection.
func (r *BooksRepository) SaveThoughts(ctx context.Context, owner, id, thoughts string) (domain.Book, error) {
	return r.setColumn(ctx, owner, id, "thoughts", thoughts)
}

// SaveDNFReason stores why the reader stopped.
func (r *BooksRepository) SaveDNFReason(ctx context.Context, owner, id, reason string) (domain.Book, error) {
	return r.setColumn(ctx, owner, id, "dnf_reason", reason)
}

// SaveAISummary stores a generated summary.
func (r *BooksRepository) SaveAISummary(ctx context.Context, owner, id, summary string) (domain.Book, error) {
	return r.setColumn(ctx, owner, id, "ai_summary", summary)
}

// SaveThemes stores extracted themes.
func (r *BooksRepository) SaveThemes(ctx context.Context, owner, id string, themes []string) (domain.Book, error) {
	if themes == nil {
		themes = []string{}
	}
	return r.setColumn(ctx, owner, id, "themes", themes)
}

// setColumn is only called with the fixed column names above.
func (r *BooksRepository) setColumn(ctx context.Context, owner, id, column string, value interface{}) (domain.Book, error) {
	if !validID(id) {
		return domain.Book{}, ErrNotFound
	}
	query := fmt.Sprintf(`UPDATE books SET %s = $3, updated_at = now() WHERE id = $1 AND created_by = $2 RETURNING %s`,
		column, bookColumns)
	return notFound(scanBook(r.pool.QueryRow(ctx, query, id, owner, value)))
}

// Delete removes one of owner's books.
func (r *BooksRepository) Delete(ctx context.Context, owner, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1 AND created_by = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns dashboard counters for owner.
func (r *BooksRepository) Stats(ctx context.Context, owner string) (domain.ShelfStats, error) {
	const query = `
        SELECT COUNT(*)::int8,
               COUNT(*) FILTER (WHERE status = 'Reading')::int8,
               COUNT(*) FILTER (WHERE status = 'Finished')::int8,
               COUNT(*) FILTER (WHERE status = 'Want to Read')::int8,
               COUNT(*) FILTER (WHERE status = 'Did Not Finish')::int8,
               (SELECT COUNT(*) FROM vocab WHERE created_by = $1)::int8
        FROM books
        WHERE created_by = $1
    `
	var s domain.ShelfStats
	err := r.pool.QueryRow(ctx, query, owner).Scan(&s.Total, &s.Reading, &s.Finished, &s.WantToRead, &s.DidNotFinish, &s.Words)
	if err != nil {
		return domain.ShelfStats{}, fmt.Errorf("shelf stats: %w", err)
	}
	return s, nil
}

func collectBooks(rows pgx.Rows) ([]domain.Book, error) {
	items := make([]domain.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, book)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanBook(row pgx.Row) (domain.Book, error) {
	var (
		book   domain.Book
		status string
		themes []string
	)

	err := row.Scan(
		&book.ID,
		&book.CreatedBy,
		&book.Title,
		&book.Author,
		&status,
		&book.DateStarted,
		&book.DateFinished,
		&book.Rating,
		&book.TotalPages,
		&book.PagesRead,
		&book.CoverURL,
		&book.Thoughts,
		&book.DNFReason,
		&book.AISummary,
		&themes,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return domain.Book{}, err
	}

	book.Status = domain.BookStatus(status)
	if book.Status == "" {
		book.Status = domain.StatusReading
	}
	book.Rating = rating.Normalize(book.Rating)
	if themes == nil {
		themes = []string{}
	}
	book.Themes = themes
	return book, nil
}

func encodeCursor(c BookCursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token into a BookCursor.
func DecodeCursor(token string) (*BookCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor BookCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if !validID(cursor.ID) {
		return nil, fmt.Errorf("invalid cursor id")
	}
	return &cursor, nil
}
