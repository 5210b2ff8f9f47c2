package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/auth"
	"github.com/pliu/parley/internal/middleware"
	"github.com/pliu/parley/internal/models"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type AuthHandler struct {
	Auth     *auth.Service
	Sessions *auth.Sessions
	Log      *logrus.Logger
}

// keepSession stores the token in the session cookie. A failure only costs
// the cookie; the token is still returned in the body.
func (h *AuthHandler) keepSession(w http.ResponseWriter, r *http.Request, token string) {
	if h.Sessions == nil {
		return
	}
	if err := h.Sessions.Save(w, r, token); err != nil {
		h.Log.WithError(err).Warn("failed to set session cookie")
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}

	user, token, err := h.Auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.keepSession(w, r, token)
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	user, token, err := h.Auth.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	h.keepSession(w, r, token)
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), middleware.TokenID(r.Context())); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if h.Sessions != nil {
		if err := h.Sessions.Clear(w, r); err != nil {
			h.Log.WithError(err).Warn("failed to clear session cookie")
		}
	}
	message(w, http.StatusOK, "Logged out successfully")
}

func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Auth.CurrentUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusOK, []models.User{})
		return
	}

	users, err := h.Auth.SearchUsers(r.Context(), middleware.UserID(r.Context()), query)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type deviceRequest struct {
	Token string `json:"fcm_token"`
}

func (h *AuthHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Auth.RegisterDevice(r.Context(), middleware.UserID(r.Context()), req.Token); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "FCM token registered successfully"})
}

func (h *AuthHandler) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.RemoveDevice(r.Context(), middleware.UserID(r.Context())); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "FCM token removed successfully"})
}
