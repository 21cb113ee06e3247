package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/middleware"
	"github.com/pelicanone/backend/internal/models"
	"github.com/pelicanone/backend/internal/presets"
)

type CreateJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JobListResponse struct {
	Items []*models.Job `json:"items"`
	Total int           `json:"total"`
}

type JobResultResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
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

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	}
	if !models.IsValidJobType(req.Type) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown_job_type"})
		return
	}

	job, err := h.svc.CreateJobWithCharge(r.Context(), user.ID, req.Type, req.Payload)
	if err != nil {
		var ve *presets.ValidationError
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Code})
		case errors.Is(err, presets.ErrValidation):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_params"})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "insufficient_funds"})
		default:
			h.log.Error("create job failed", "error", err, "user_id", user.ID, "type", req.Type)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "create_failed"})
		}
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, jobID, ok := h.userAndJobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), user.ID, jobID)
	if err != nil {
		h.respondJobError(w, err, user.ID, jobID, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Result reports the outcome of one job: 202 while it is still in flight,
// 409 when it failed or was canceled, 200 with the result when done.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	user, jobID, ok := h.userAndJobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), user.ID, jobID)
	if err != nil {
		h.respondJobError(w, err, user.ID, jobID, "get job result failed")
		return
	}
	switch job.Status {
	case models.JobStatusDone:
		writeJSON(w, http.StatusOK, JobResultResponse{Status: job.Status, Result: job.Result})
	case models.JobStatusError, models.JobStatusCanceled:
		writeJSON(w, http.StatusConflict, JobResultResponse{Status: job.Status, Error: job.Error})
	default:
		writeJSON(w, http.StatusAccepted, JobResultResponse{Status: job.Status})
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, offset = ClampPage(limit, offset)

	items, total, err := h.svc.ListJobs(r.Context(), user.ID, limit, offset)
	if err != nil {
		h.log.Error("list jobs failed", "error", err, "user_id", user.ID)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list_failed"})
		return
	}
	if items == nil {
		items = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Items: items, Total: total})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, jobID, ok := h.userAndJobID(w, r)
	if !ok {
		return
	}
	job, err := h.svc.CancelJob(r.Context(), user.ID, jobID)
	if err != nil {
		if errors.Is(err, ErrCannotCancel) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cannot_cancel"})
			return
		}
		h.respondJobError(w, err, user.ID, jobID, "cancel job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) userAndJobID(w http.ResponseWriter, r *http.Request) (*models.User, uuid.UUID, bool) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job_not_found"})
		return nil, uuid.Nil, false
	}
	return user, jobID, true
}

func (h *Handler) respondJobError(w http.ResponseWriter, err error, userID, jobID uuid.UUID, msg string) {
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job_not_found"})
		return
	}
	h.log.Error(msg, "error", err, "user_id", userID, "job_id", jobID)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
