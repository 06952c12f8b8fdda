// Package postgres provides PostgreSQL storage for user accounts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/shepherd-cms/shepherd/pkg/users"
)

const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// userColumns lists columns returned by user SELECT queries.
var userColumns = []string{
	"id", "username", "password_hash", "role", "api_key",
	"created_at", "updated_at", "is_active",
}

// Store implements users.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL user store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create stores a new active user.
func (s *Store) Create(ctx context.Context, u users.User) (*users.User, error) {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Active = true

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, api_key, created_at, updated_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING id`,
		u.Username, u.PasswordHash, u.Role, u.APIKey, u.CreatedAt, u.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %q: %w", u.Username, users.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	u.ID = strconv.FormatInt(id, 10)
	return &u, nil
}

// GetByUsername returns an active user by name.
func (s *Store) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return s.getOne(ctx, sq.Eq{"username": username, "is_active": true})
}

// GetByAPIKey returns the active user owning the API key.
func (s *Store) GetByAPIKey(ctx context.Context, apiKey string) (*users.User, error) {
	return s.getOne(ctx, sq.Eq{"api_key": apiKey, "is_active": true})
}

// UpdatePassword replaces the user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	return s.updateField(ctx, username, "password_hash", passwordHash)
}

// RotateAPIKey replaces the user's API key.
func (s *Store) RotateAPIKey(ctx context.Context, username, apiKey string) error {
	return s.updateField(ctx, username, "api_key", apiKey)
}

// List returns all users ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]users.User, error) {
	query, args, err := psq.Select(userColumns...).
		From("users").
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return out, nil
}

// Delete removes a user.
func (s *Store) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting deleted users: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("user %q: %w", username, users.ErrNotFound)
	}
	return nil
}

// Any reports whether any user exists.
func (s *Store) Any(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}
	return count > 0, nil
}

func (s *Store) getOne(ctx context.Context, where sq.Eq) (*users.User, error) {
	query, args, err := psq.Select(userColumns...).
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return u, nil
}

func (s *Store) updateField(ctx context.Context, username, column, value string) error {
	query, args, err := psq.Update("users").
		Set(column, value).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building user update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("counting updated users: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("user %q: %w", username, users.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*users.User, error) {
	var (
		u  users.User
		id int64
	)
	err := row.Scan(
		&id,
		&u.Username,
		&u.PasswordHash,
		&u.Role,
		&u.APIKey,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.Active,
	)
	if err != nil {
		return nil, err
	}
	u.ID = strconv.FormatInt(id, 10)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Verify interface compliance.
var _ users.Store = (*Store)(nil)
