// Package users defines the user account model and storage contract
// for API-key authentication and role checks.
package users

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by user stores.
var (
	// ErrNotFound marks an unknown or inactive user.
	ErrNotFound = errors.New("user not found")

	// ErrAlreadyExists marks a duplicate username or API key.
	ErrAlreadyExists = errors.New("user already exists")
)

// User is a service account. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	APIKey       string    `json:"api_key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Active       bool      `json:"is_active"`
}

// Store is the persistence contract for user accounts.
type Store interface {
	// Create stores a new active user. Returns ErrAlreadyExists when
	// the username or API key is taken.
	Create(ctx context.Context, u User) (*User, error)

	// GetByUsername returns an active user, including the password
	// hash for login verification.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByAPIKey returns the active user owning the API key.
	GetByAPIKey(ctx context.Context, apiKey string) (*User, error)

	// UpdatePassword replaces the user's password hash.
	UpdatePassword(ctx context.Context, username, passwordHash string) error

	// RotateAPIKey replaces the user's API key.
	RotateAPIKey(ctx context.Context, username, apiKey string) error

	// List returns all users.
	List(ctx context.Context) ([]User, error)

	// Delete removes a user. Returns ErrNotFound when absent.
	Delete(ctx context.Context, username string) error

	// Any reports whether any user exists.
	Any(ctx context.Context) (bool, error)
}
