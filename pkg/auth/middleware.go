package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shepherd-cms/shepherd/pkg/users"
)

// Middleware resolves the request's API key (X-API-Key header or
// Bearer token) to a user and adds it to the request context. Requests
// without a valid key are rejected with 401.
func Middleware(store users.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				http.Error(w, "Unauthorized: missing API key", http.StatusUnauthorized)
				return
			}

			user, err := store.GetByAPIKey(r.Context(), key)
			if err != nil {
				if !errors.Is(err, users.ErrNotFound) {
					logger.Error("resolving api key", "error", err)
				}
				http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRole wraps a handler with a minimum-role check against the
// authenticated user placed in the context by Middleware.
func RequireRole(required string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !RoleAtLeast(user.Role, required) {
			http.Error(w, "Forbidden: insufficient role", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// EnsureDefaultAdmin creates an admin account when no users exist yet,
// so a fresh install is reachable. The created user, including its
// generated API key, is returned once for the operator to record.
func EnsureDefaultAdmin(ctx context.Context, store users.Store, password string, logger *slog.Logger) (*users.User, error) {
	if logger == nil {
		logger = slog.Default()
	}

	exists, err := store.Any(ctx)
	if err != nil {
		return nil, err
	}
	if exists || password == "" {
		return nil, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	admin, err := store.Create(ctx, users.User{
		Username:     "admin",
		PasswordHash: hash,
		Role:         RoleAdmin,
		APIKey:       key,
	})
	if err != nil {
		// Another replica may have bootstrapped first.
		if errors.Is(err, users.ErrAlreadyExists) {
			return nil, nil
		}
		return nil, err
	}

	logger.Info("created default admin user", "username", admin.Username)
	return admin, nil
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
