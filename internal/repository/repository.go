package repository

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candicemama-blip/thirdshelf/internal/store"
)

// ErrNotFound indicates the requested entity does not exist or is not owned
// by the caller.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness violation, e.g. a duplicate email.
var ErrConflict = errors.New("repository: conflict")

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Users *UsersRepository
	Books *BooksRepository
	Vocab *VocabRepository
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return NewWithPool(st.Pool())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{
		Users: &UsersRepository{pool: pool},
		Books: &BooksRepository{pool: pool},
		Vocab: &VocabRepository{pool: pool},
	}
}

// validID reports whether id can address a row. Malformed ids never match.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
