package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"marketdash/internal/apperr"
	"marketdash/internal/models"
)

// Users are not tenant-scoped; authentication happens before a tenant exists.

func (r *Repository) CreateUser(ctx context.Context, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{Email: email, Active: true}
	err = r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, active)
		VALUES ($1, $2, true)
		RETURNING id, created_at`,
		email, hash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Conflict, "email already registered")
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u.PasswordHash = hash
	return u, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, active, created_at
		FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, active, created_at
		FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// CheckPassword verifies credentials and returns the user on success.
func (r *Repository) CheckPassword(ctx context.Context, email, password string) (*models.User, error) {
	u, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.New(apperr.Unauthenticated, "invalid credentials")
		}
		return nil, err
	}
	if !u.Active {
		return nil, apperr.New(apperr.Forbidden, "account deactivated")
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}
	return u, nil
}

// DeactivateUser soft-deletes: rows keep their owner, logins stop working.
func (r *Repository) DeactivateUser(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE users SET active = false WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "user not found")
	}
	return nil
}
