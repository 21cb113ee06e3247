package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job types.
const (
	JobTypeText    = "text"
	JobTypeImage   = "image"
	JobTypeVideo   = "video"
	JobTypeAudio   = "audio"
	JobTypeUpscale = "upscale"
	JobTypeEdit    = "edit"
)

// Job statuses. done, error and canceled are terminal.
const (
	JobStatusQueued   = "queued"
	JobStatusRunning  = "running"
	JobStatusDone     = "done"
	JobStatusError    = "error"
	JobStatusCanceled = "canceled"
)

// JobTypes lists every accepted job type.
var JobTypes = []string{JobTypeText, JobTypeImage, JobTypeVideo, JobTypeAudio, JobTypeUpscale, JobTypeEdit}

// IsValidJobType reports whether t is a known job type.
func IsValidJobType(t string) bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a job in status s accepts no further
// transitions.
func IsTerminalStatus(s string) bool {
	return s == JobStatusDone || s == JobStatusError || s == JobStatusCanceled
}

// Job is a paid generation request. Cost is fixed at creation; status,
// result, error and the timestamps are mutated only by the execution worker
// and the cancellation path.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Provider    string          `json:"provider"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	ResultFiles json.RawMessage `json:"result_files,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Cost        int64           `json:"cost"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Result item kinds.
const (
	ResultItemText = "text"
	ResultItemFile = "file"
)

// ResultItem is one piece of provider output: either inline text or a file
// reference.
type ResultItem struct {
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
	URL         string `json:"url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// JobResult is the canonical result shape stored on a done job: typed,
// ordered content items plus the raw provider payload for debugging.
type JobResult struct {
	Type  string          `json:"type"`
	Items []ResultItem    `json:"items"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// StoredFile describes a provider file persisted to local storage.
type StoredFile struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}
