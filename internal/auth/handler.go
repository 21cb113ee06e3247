package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pelicanone/backend/internal/models"
)

type TelegramAuthRequest struct {
	InitData string `json:"initData"`
}

type VKAuthRequest struct {
	LaunchParams string `json:"launchParams"`
}

type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	User        *UserResponse `json:"user,omitempty"`
}

type UserResponse struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Username string `json:"username,omitempty"`
	Balance  int64  `json:"balance"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Telegram(w http.ResponseWriter, r *http.Request) {
	var req TelegramAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.InitData == "" {
		http.Error(w, "missing initData", http.StatusBadRequest)
		return
	}
	token, user, err := h.svc.LoginTelegram(r.Context(), req.InitData)
	h.finishLogin(w, token, user, err)
}

func (h *Handler) VK(w http.ResponseWriter, r *http.Request) {
	var req VKAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.LaunchParams == "" {
		http.Error(w, "missing launchParams", http.StatusBadRequest)
		return
	}
	token, user, err := h.svc.LoginVK(r.Context(), req.LaunchParams)
	h.finishLogin(w, token, user, err)
}

// Dev responds 404 when dev auth is disabled so the endpoint is invisible
// in production.
func (h *Handler) Dev(w http.ResponseWriter, r *http.Request) {
	token, user, err := h.svc.LoginDev(r.Context())
	if errors.Is(err, ErrDevAuthDisabled) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	h.finishLogin(w, token, user, err)
}

func (h *Handler) finishLogin(w http.ResponseWriter, token string, user *models.User, err error) {
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(AuthResponse{AccessToken: token, User: userToResponse(user)})
}

func userToResponse(u *models.User) *UserResponse {
	if u == nil {
		return nil
	}
	resp := &UserResponse{ID: u.ID.String(), Platform: u.Platform, Balance: u.Balance}
	if u.Username != nil {
		resp.Username = *u.Username
	}
	return resp
}
