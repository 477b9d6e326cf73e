package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

// UsersRepository stores account profiles.
type UsersRepository struct {
	pool *pgxpool.Pool
}

const userColumns = `id, email, password_hash, display_name, photo_url, created_at, updated_at`

// UserCreateParams bundles the fields required to register an account.
type UserCreateParams struct {
	Email        string
	PasswordHash string
	DisplayName  string
}

// Create inserts a user. A duplicate email yields ErrConflict.
func (r *UsersRepository) Create(ctx context.Context, params UserCreateParams) (domain.User, error) {
	query := fmt.Sprintf(`
        INSERT INTO users (email, password_hash, display_name)
        VALUES ($1,$2,$3)
        RETURNING %s
    `, userColumns)

	user, err := scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(params.Email), params.PasswordHash, params.DisplayName))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	return user, nil
}

// GetByID fetches a user by id.
func (r *UsersRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	if !validID(id) {
		return domain.User{}, ErrNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return notFound(scanUser(r.pool.QueryRow(ctx, query, id)))
}

// GetByEmail fetches a user by case-insensitive email.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE lower(email) = lower($1)`, userColumns)
	return notFound(scanUser(r.pool.QueryRow(ctx, query, strings.TrimSpace(email))))
}

// UpdateDisplayName changes the profile name.
func (r *UsersRepository) UpdateDisplayName(ctx context.Context, id, name string) (domain.User, error) {
	if !validID(id) {
		return domain.User{}, ErrNotFound
	}
	query := fmt.Sprintf(`
        UPDATE users SET display_name = $2, updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, userColumns)
	return notFound(scanUser(r.pool.QueryRow(ctx, query, id, name)))
}

// Delete removes a user; books and vocab cascade.
func (r *UsersRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.PhotoURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func notFound[T any](v T, err error) (T, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		var zero T
		return zero, ErrNotFound
	}
	return v, err
}
