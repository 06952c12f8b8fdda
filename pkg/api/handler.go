// Package api provides the REST endpoints for configuration management,
// webhook administration and user administration.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shepherd-cms/shepherd/pkg/auth"
	"github.com/shepherd-cms/shepherd/pkg/configs"
	"github.com/shepherd-cms/shepherd/pkg/health"
	"github.com/shepherd-cms/shepherd/pkg/users"
	"github.com/shepherd-cms/shepherd/pkg/webhook"
)

const (
	pathParamID       = "id"
	pathParamVersion  = "version"
	pathParamUsername = "username"
)

// Deps holds the collaborators the handler routes requests to. Hooks,
// Users, Metrics and AuthMiddleware may be nil when the corresponding
// feature is disabled; the affected routes are then not registered or
// served unprotected.
type Deps struct {
	Service        *configs.Service
	Hooks          *webhook.Manager
	Users          users.Store
	Checker        *health.Checker
	Metrics        http.Handler
	AuthMiddleware func(http.Handler) http.Handler
	Logger         *slog.Logger
}

// Handler is the root HTTP handler for the service.
type Handler struct {
	mux    *http.ServeMux
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates the handler and registers all routes.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{
		mux:    http.NewServeMux(),
		deps:   deps,
		logger: deps.Logger,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes. Literal segments take
// precedence over wildcards, so /api/config/query never shadows
// /api/config/{id}.
func (h *Handler) registerRoutes() {
	h.mux.Handle("POST /api/config", h.protected(auth.RoleEditor, h.createConfig))
	h.mux.Handle("GET /api/config/query", h.protected(auth.RoleViewer, h.queryConfigs))
	h.mux.Handle("GET /api/config/{id}", h.protected(auth.RoleViewer, h.getConfig))
	h.mux.Handle("PUT /api/config/{id}", h.protected(auth.RoleEditor, h.updateConfig))
	h.mux.Handle("DELETE /api/config/{id}", h.protected(auth.RoleAdmin, h.deleteConfig))
	h.mux.Handle("GET /api/config/{id}/version/{version}", h.protected(auth.RoleViewer, h.getConfigVersion))
	h.mux.Handle("GET /api/config/history/{id}", h.protected(auth.RoleViewer, h.configHistory))
	h.mux.Handle("POST /api/config/{id}/rollback/{version}", h.protected(auth.RoleEditor, h.rollbackConfig))

	if h.deps.Hooks != nil {
		h.mux.Handle("GET /api/webhooks", h.protected(auth.RoleAdmin, h.listWebhooks))
		h.mux.Handle("POST /api/webhooks", h.protected(auth.RoleAdmin, h.addWebhook))
		h.mux.Handle("DELETE /api/webhooks", h.protected(auth.RoleAdmin, h.removeWebhook))
		h.mux.Handle("POST /api/webhooks/test", h.protected(auth.RoleAdmin, h.testWebhooks))
		h.mux.Handle("GET /api/webhooks/stats", h.protected(auth.RoleAdmin, h.webhookStats))
	}

	if h.deps.Users != nil {
		h.mux.Handle("POST /api/users", h.protected(auth.RoleAdmin, h.createUser))
		h.mux.Handle("GET /api/users", h.protected(auth.RoleAdmin, h.listUsers))
		h.mux.Handle("DELETE /api/users/{username}", h.protected(auth.RoleAdmin, h.deleteUser))
		h.mux.Handle("POST /api/profile/regenerate-api-key", h.protected(auth.RoleViewer, h.regenerateAPIKey))
	}

	if h.deps.Checker != nil {
		h.mux.HandleFunc("GET /api/health", h.deps.Checker.StatusHandler())
		h.mux.HandleFunc("GET /healthz", h.deps.Checker.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.deps.Checker.ReadinessHandler())
	}

	if h.deps.Metrics != nil {
		h.mux.Handle("GET /metrics", h.deps.Metrics)
	}
}

// protected applies authentication and a minimum-role check to a route.
// With no auth middleware configured every request passes through.
func (h *Handler) protected(role string, fn http.HandlerFunc) http.Handler {
	if h.deps.AuthMiddleware == nil {
		return fn
	}
	return h.deps.AuthMiddleware(auth.RequireRole(role, fn))
}

// actor returns the authenticated username, or the empty string when
// authentication is disabled.
func actor(r *http.Request) string {
	if u, ok := auth.FromContext(r.Context()); ok {
		return u.Username
	}
	return ""
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, configs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, configs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, configs.ErrAlreadyExists), errors.Is(err, configs.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, configs.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) serviceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.logger.Error("request failed", "error", err)
	}
	writeError(w, code, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
