package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pelicanone/backend/internal/models"
	"github.com/pelicanone/backend/internal/presets"
	"github.com/pelicanone/backend/internal/provider"
)

// RunJobArgs carries only the job id; the worker re-fetches the full record
// rather than trusting stale in-message state.
type RunJobArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (RunJobArgs) Kind() string { return "run_job" }

// retryDelays is the outer retry schedule for retryable submit/poll
// failures: immediate, then 1s, 3s, 5s.
var retryDelays = []time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}

// JobService is the contract the worker needs to move a job through its
// lifecycle and settle the ledger.
type JobService interface {
	// LoadJob returns nil (no error) for unknown ids.
	LoadJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	MarkJobRunning(ctx context.Context, jobID uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID, result *models.JobResult, files []models.StoredFile) (bool, error)
	// FailJob marks the job failed and triggers the idempotent refund.
	FailJob(ctx context.Context, jobID uuid.UUID, reason string) error
}

// Gateway is the provider boundary: submit once, then block polling until a
// terminal status.
type Gateway interface {
	Submit(ctx context.Context, networkID string, params map[string]any) (string, error)
	PollUntilDone(ctx context.Context, requestID string, settings presets.PollingSettings) (*provider.Status, error)
}

// FileStore downloads provider file URLs into local storage and rewrites
// the result to reference them.
type FileStore interface {
	Persist(ctx context.Context, jobID uuid.UUID, result *models.JobResult) (*models.JobResult, []models.StoredFile, error)
}

// PollingSource supplies per-job poll timeout/interval (the preset catalog).
type PollingSource interface {
	PollingSettings(jobType, networkID string) presets.PollingSettings
}

// RunJobWorker executes one job to completion: running transition, provider
// submit+poll with bounded retries, result persistence, terminal settlement.
// It blocks its worker slot for the whole generation; concurrency comes from
// the queue's worker pool.
type RunJobWorker struct {
	river.WorkerDefaults[RunJobArgs]
	jobs    JobService
	gateway Gateway
	files   FileStore
	polling PollingSource
	log     *slog.Logger
}

func NewRunJobWorker(jobs JobService, gateway Gateway, files FileStore, polling PollingSource, log *slog.Logger) *RunJobWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RunJobWorker{jobs: jobs, gateway: gateway, files: files, polling: polling, log: log}
}

func (w *RunJobWorker) Work(ctx context.Context, job *river.Job[RunJobArgs]) error {
	jobID := job.Args.JobID

	rec, err := w.jobs.LoadJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	// Redelivery guard: the queue is at-least-once, a settled job is a no-op.
	if rec == nil || models.IsTerminalStatus(rec.Status) {
		return nil
	}

	started, err := w.jobs.MarkJobRunning(ctx, jobID)
	if err != nil {
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	if !started && rec.Status != models.JobStatusRunning {
		// Canceled between load and transition.
		return nil
	}

	var payload presets.NormalizedPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return w.failJob(ctx, jobID, fmt.Sprintf("invalid job payload: %v", err), err)
	}

	status, err := w.executeWithRetry(ctx, rec.Type, &payload)
	if err != nil {
		return w.failJob(ctx, jobID, errorMessage(err), err)
	}
	if status.Failed() {
		msg := status.ErrorMessage()
		return w.failJob(ctx, jobID, msg, fmt.Errorf("provider reported %s: %s", status.Status, msg))
	}

	result, err := provider.NormalizeResult(rec.Type, status.Raw)
	if err != nil {
		return w.failJob(ctx, jobID, errorMessage(err), err)
	}
	result, stored, err := w.files.Persist(ctx, jobID, result)
	if err != nil {
		return w.failJob(ctx, jobID, fmt.Sprintf("persist result files: %v", err), err)
	}

	completed, err := w.jobs.CompleteJob(ctx, jobID, result, stored)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if !completed {
		// Canceled while we were generating; the refund already happened and
		// the canceled state stands.
		w.log.Warn("job settled elsewhere, dropping result", "job_id", jobID)
	}
	return nil
}

// executeWithRetry runs one submit+poll attempt per delay in the schedule.
// Retryable infrastructure failures move to the next attempt; a poll timeout
// or a fatal provider rejection stops immediately.
func (w *RunJobWorker) executeWithRetry(ctx context.Context, jobType string, payload *presets.NormalizedPayload) (*provider.Status, error) {
	params := BuildProviderParams(jobType, payload.Params)
	settings := w.polling.PollingSettings(jobType, payload.NetworkID)

	var lastErr error
	for _, delay := range retryDelays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		status, err := w.attempt(ctx, payload.NetworkID, params, settings)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if provider.IsTimeout(err) || !provider.IsRetryable(err) {
			return nil, err
		}
		w.log.Warn("provider attempt failed, retrying", "network_id", payload.NetworkID, "error", err)
	}
	return nil, lastErr
}

func (w *RunJobWorker) attempt(ctx context.Context, networkID string, params map[string]any, settings presets.PollingSettings) (*provider.Status, error) {
	requestID, err := w.gateway.Submit(ctx, networkID, params)
	if err != nil {
		return nil, err
	}
	w.log.Info("provider poll start", "network_id", networkID, "request_id", requestID,
		"timeout", settings.Timeout, "interval", settings.Interval)
	return w.gateway.PollUntilDone(ctx, requestID, settings)
}

// failJob settles the job as failed (terminal status + idempotent refund),
// then re-raises the original error so the queue's own failure accounting
// observes it. Redelivery after this point is a safe no-op.
func (w *RunJobWorker) failJob(ctx context.Context, jobID uuid.UUID, reason string, cause error) error {
	if err := w.jobs.FailJob(ctx, jobID, reason); err != nil {
		return fmt.Errorf("job failed (%s) and settlement failed: %w", reason, err)
	}
	return cause
}

func errorMessage(err error) string {
	if provider.IsTimeout(err) {
		return "generation timed out"
	}
	return err.Error()
}

// BuildProviderParams shapes the normalized params for submission. Text jobs
// carry their prompt as a chat message list; other types submit their params
// as-is.
func BuildProviderParams(jobType string, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if jobType != models.JobTypeText {
		return out
	}
	prompt, ok := out["prompt"].(string)
	if !ok {
		return out
	}
	delete(out, "prompt")
	out["messages"] = []map[string]any{{"role": "user", "content": prompt}}
	return out
}
