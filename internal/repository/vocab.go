package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

// VocabRepository stores the reader's word list.
type VocabRepository struct {
	pool *pgxpool.Pool
}

const vocabColumns = `id, created_by, word, definition, book_ref, book_title, created_at`

// VocabCreateParams bundles the fields of a new word.
type VocabCreateParams struct {
	Word       string
	Definition string
	BookRef    string
	BookTitle  string
}

// VocabListFilters narrows a word listing.
type VocabListFilters struct {
	BookRef *string
	Query   *string
}

// List returns owner's words, oldest first.
func (r *VocabRepository) List(ctx context.Context, owner string, filters VocabListFilters) ([]domain.VocabWord, error) {
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	where := []string{"created_by = " + arg(owner)}

	if filters.BookRef != nil {
		where = append(where, "book_ref = "+arg(*filters.BookRef))
	}
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		p := arg("%" + strings.TrimSpace(*filters.Query) + "%")
		where = append(where, fmt.Sprintf("(word ILIKE %s OR definition ILIKE %s)", p, p))
	}

	query := fmt.Sprintf(`SELECT %s FROM vocab WHERE %s ORDER BY created_at ASC, id ASC`,
		vocabColumns, strings.Join(where, " AND "))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.VocabWord, 0)
	for rows.Next() {
		w, err := scanVocab(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Create adds a word for owner.
func (r *VocabRepository) Create(ctx context.Context, owner string, params VocabCreateParams) (domain.VocabWord, error) {
	query := fmt.Sprintf(`
        INSERT INTO vocab (created_by, word, definition, book_ref, book_title)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING %s
    `, vocabColumns)
	return scanVocab(r.pool.QueryRow(ctx, query, owner, strings.TrimSpace(params.Word),
		strings.TrimSpace(params.Definition), params.BookRef, params.BookTitle))
}

// Delete removes one of owner's words.
func (r *VocabRepository) Delete(ctx context.Context, owner, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM vocab WHERE id = $1 AND created_by = $2`, id, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GroupByBook buckets words under their book heading, keeping list order.
func GroupByBook(words []domain.VocabWord) ([]string, map[string][]domain.VocabWord) {
	order := make([]string, 0)
	groups := make(map[string][]domain.VocabWord)
	for _, w := range words {
		key := w.GroupKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], w)
	}
	return order, groups
}

func scanVocab(row pgx.Row) (domain.VocabWord, error) {
	var w domain.VocabWord
	err := row.Scan(&w.ID, &w.CreatedBy, &w.Word, &w.Definition, &w.BookRef, &w.BookTitle, &w.CreatedAt)
	if err != nil {
		return domain.VocabWord{}, err
	}
	return w, nil
}
