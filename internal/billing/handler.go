package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pelicanone/backend/internal/middleware"
	"github.com/pelicanone/backend/internal/models"
)

const (
	defaultLedgerLimit = 20
	maxLedgerLimit     = 100
)

type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

type LedgerResponse struct {
	Items []*models.LedgerEntry `json:"items"`
	Total int                   `json:"total"`
}

type AdminAddRequest struct {
	PlatformUserID string `json:"platform_user_id"`
	Amount         int64  `json:"amount"`
}

type AdminAddResponse struct {
	PlatformUserID string `json:"platform_user_id"`
	Balance        int64  `json:"balance"`
}

type Handler struct {
	svc         Service
	adminSecret string
	log         *slog.Logger
}

func NewHandler(svc Service, adminSecret string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, adminSecret: adminSecret, log: log}
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.TopUp(r.Context(), user.ID, req.Amount)
	if err != nil {
		if errors.Is(err, ErrInvalidPackage) {
			http.Error(w, "invalid topup package", http.StatusBadRequest)
			return
		}
		h.log.Error("topup failed", "error", err, "user_id", user.ID)
		http.Error(w, "topup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	balance, err := h.svc.Balance(r.Context(), user.ID)
	if err != nil {
		h.log.Error("balance lookup failed", "error", err, "user_id", user.ID)
		http.Error(w, "balance lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit, offset := pageParams(r)
	items, total, err := h.svc.Ledger(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.log.Error("ledger list failed", "error", err, "user_id", user.ID)
		http.Error(w, "ledger list failed", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Items: items, Total: total})
}

// AdminAdd is gated by a shared secret header rather than a user token. An
// empty configured secret disables the endpoint entirely.
func (h *Handler) AdminAdd(w http.ResponseWriter, r *http.Request) {
	if h.adminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Secret")), []byte(h.adminSecret)) != 1 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var req AdminAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.PlatformUserID == "" || req.Amount <= 0 {
		http.Error(w, "missing platform_user_id or amount", http.StatusBadRequest)
		return
	}
	balance, err := h.svc.AdminAdd(r.Context(), req.PlatformUserID, req.Amount)
	if err != nil {
		h.log.Error("admin credit add failed", "error", err)
		http.Error(w, "admin credit add failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, AdminAddResponse{PlatformUserID: req.PlatformUserID, Balance: balance})
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultLedgerLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxLedgerLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
