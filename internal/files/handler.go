package files

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/pelicanone/backend/internal/middleware"
	"github.com/pelicanone/backend/internal/models"
)

// JobSource looks up jobs for the ownership check on file access.
type JobSource interface {
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}

type Handler struct {
	store *Store
	jobs  JobSource
	log   *slog.Logger
}

func NewHandler(store *Store, jobs JobSource, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, jobs: jobs, log: log}
}

// ServeFile serves one stored job file to its owner. Filenames are checked
// against the job's result_files allowlist and confined to the job's
// directory.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	if user == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		http.Error(w, `{"error":"job_not_found"}`, http.StatusNotFound)
		return
	}
	filename := r.PathValue("filename")

	job, err := h.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		h.log.Error("file lookup failed", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if job == nil || job.UserID != user.ID {
		http.Error(w, `{"error":"job_not_found"}`, http.StatusNotFound)
		return
	}
	if len(job.ResultFiles) > 0 && !fileAllowed(job.ResultFiles, filename) {
		http.Error(w, `{"error":"file_not_found"}`, http.StatusNotFound)
		return
	}

	p, err := h.store.Resolve(jobID, filename)
	if err != nil {
		http.Error(w, `{"error":"file_not_found"}`, http.StatusNotFound)
		return
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		http.Error(w, `{"error":"file_not_found"}`, http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, p)
}

func fileAllowed(rawFiles json.RawMessage, filename string) bool {
	var stored []models.StoredFile
	if err := json.Unmarshal(rawFiles, &stored); err != nil {
		return false
	}
	for _, f := range stored {
		if f.Filename == filename {
			return true
		}
	}
	return false
}
