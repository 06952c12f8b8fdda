package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shepherd-cms/shepherd/pkg/auth"
	"github.com/shepherd-cms/shepherd/pkg/users"
)

// createUserRequest is the body of POST /api/users.
type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// createUser handles POST /api/users. The generated API key is returned
// exactly once, in this response.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}
	if !auth.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "unknown role: "+req.Role)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hashing password", "error", err)
		writeError(w, http.StatusInternalServerError, "creating user failed")
		return
	}
	key, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("generating api key", "error", err)
		writeError(w, http.StatusInternalServerError, "creating user failed")
		return
	}

	created, err := h.deps.Users.Create(r.Context(), users.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         req.Role,
		APIKey:       key,
	})
	if err != nil {
		h.userError(w, err)
		return
	}

	h.logger.Info("created user", "username", created.Username, "role", created.Role)
	writeJSON(w, http.StatusCreated, created)
}

// listUsers handles GET /api/users. API keys are redacted from the list.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Users.List(r.Context())
	if err != nil {
		h.userError(w, err)
		return
	}
	if list == nil {
		list = []users.User{}
	}
	for i := range list {
		list[i].APIKey = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": list})
}

// deleteUser handles DELETE /api/users/{username}. Deleting your own
// account is rejected to keep at least the caller's access intact.
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue(pathParamUsername)
	if u, ok := auth.FromContext(r.Context()); ok && u.Username == username {
		writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	if err := h.deps.Users.Delete(r.Context(), username); err != nil {
		h.userError(w, err)
		return
	}
	h.logger.Info("deleted user", "username", username)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": username})
}

// regenerateAPIKey handles POST /api/profile/regenerate-api-key for the
// authenticated user. The previous key stops working immediately.
func (h *Handler) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("generating api key", "error", err)
		writeError(w, http.StatusInternalServerError, "regenerating api key failed")
		return
	}
	if err := h.deps.Users.RotateAPIKey(r.Context(), u.Username, key); err != nil {
		h.userError(w, err)
		return
	}

	h.logger.Info("rotated api key", "username", u.Username)
	writeJSON(w, http.StatusOK, map[string]string{"api_key": key})
}

func (h *Handler) userError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, users.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("user store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
