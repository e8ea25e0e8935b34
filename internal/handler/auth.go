package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/msomdec/geostory/internal/domain"
	"github.com/msomdec/geostory/internal/service"
)

// AuthHandler logs clients in against the story service.
type AuthHandler struct {
	creds *service.CredentialService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(creds *service.CredentialService) *AuthHandler {
	return &AuthHandler{creds: creds}
}

type userDTO struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// HandleLogin processes a JSON login request.
// POST /api/auth/login
// Request:  {"email":"...","password":"..."}
// Response: {"user": {...}}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())

	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeDomainError(w, err, "read login")
		return
	}

	cred, err := h.creds.Login(r.Context(), app.ID, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password.")
			return
		}
		slog.Error("login", "error", err)
		writeError(w, http.StatusBadGateway, "The story service is unavailable. Please try again.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": userDTO{UserID: cred.UserID, Name: cred.Name},
	})
}

// HandleMe returns the logged-in user of the client.
// GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	cred, err := h.creds.Current(r.Context(), app.ID)
	if err != nil {
		writeDomainError(w, err, "current credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": userDTO{UserID: cred.UserID, Name: cred.Name},
	})
}

// HandleLogout forgets the client's token and leaves the current page.
// POST /api/auth/logout
// Response: 204 No Content
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	app := ClientFromContext(r.Context())
	if err := h.creds.Logout(r.Context(), app.ID); err != nil {
		writeDomainError(w, err, "logout")
		return
	}
	app.Leave()
	w.WriteHeader(http.StatusNoContent)
}
