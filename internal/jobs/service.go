package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pelicanone/backend/internal/config"
	"github.com/pelicanone/backend/internal/execution"
	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/models"
	"github.com/pelicanone/backend/internal/presets"
)

// ErrNotFound is returned when a job does not exist or belongs to another
// user.
var ErrNotFound = errors.New("job not found")

// ErrCannotCancel is returned when cancellation targets a job that already
// reached a terminal state.
var ErrCannotCancel = errors.New("job cannot be canceled")

// Store is the job persistence contract used by the service.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, jobType string, payload json.RawMessage, cost int64) (*models.Job, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, int, error)
	MarkRunning(ctx context.Context, jobID uuid.UUID) (bool, error)
	MarkDone(ctx context.Context, jobID uuid.UUID, result, resultFiles json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (bool, error)
	MarkCanceled(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// Normalizer validates and defaults a raw job payload (the preset catalog).
type Normalizer interface {
	Normalize(jobType string, rawPayload json.RawMessage) (*presets.NormalizedPayload, error)
}

// InsertRunJobTxFunc enqueues a RunJob task within the given transaction.
// Provided by main as a closure over river.Client.InsertTx.
type InsertRunJobTxFunc func(ctx context.Context, tx pgx.Tx, args execution.RunJobArgs) error

type Service interface {
	CreateJobWithCharge(ctx context.Context, userID uuid.UUID, jobType string, rawPayload json.RawMessage) (*models.Job, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, int, error)
	CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error)
}

type service struct {
	store        Store
	ledger       ledger.Service
	normalizer   Normalizer
	costs        config.CostTable
	insertRunJob InsertRunJobTxFunc
}

// NewService creates the job charging service. insertRunJob is typically a
// closure over river.Client.InsertTx. Returns *service so it can double as
// execution.JobService for the River worker.
func NewService(store Store, ledgerSvc ledger.Service, normalizer Normalizer, costs config.CostTable, insertRunJob InsertRunJobTxFunc) *service {
	return &service{
		store:        store,
		ledger:       ledgerSvc,
		normalizer:   normalizer,
		costs:        costs,
		insertRunJob: insertRunJob,
	}
}

var _ Service = (*service)(nil)
var _ execution.JobService = (*service)(nil)

// CreateJobWithCharge validates the payload, then atomically debits the
// user and creates the queued job in one transaction. The queue insert
// rides the same transaction, so a worker can never observe a job whose
// charge has not committed, and a rollback leaves no partial state.
func (s *service) CreateJobWithCharge(ctx context.Context, userID uuid.UUID, jobType string, rawPayload json.RawMessage) (*models.Job, error) {
	normalized, err := s.normalizer.Normalize(jobType, rawPayload)
	if err != nil {
		return nil, err
	}
	cost, err := s.costs.Cost(jobType)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	user, err := s.ledger.LockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if user.Balance < cost {
		return nil, ledger.ErrInsufficientFunds
	}
	job, err := s.store.CreateTx(ctx, tx, userID, jobType, payload, cost)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.ApplyDelta(ctx, tx, userID, -cost, models.LedgerReasonJobCharge, &job.ID); err != nil {
		return nil, err
	}
	if err := s.insertRunJob(ctx, tx, execution.RunJobArgs{JobID: job.ID}); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *service) ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, int, error) {
	return s.store.ListByUser(ctx, userID, limit, offset)
}

// CancelJob marks a queued/running job canceled and refunds its cost. The
// conditional transition means a job the worker already settled cannot be
// canceled, and the refund shares the idempotence guard with the worker's
// failure path, so the two racing cannot double-refund.
func (s *service) CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return nil, err
	}
	canceled, err := s.store.MarkCanceled(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !canceled {
		return nil, ErrCannotCancel
	}
	if err := s.RefundJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, userID, jobID)
}

// RefundJob credits the job's cost back exactly once. The existence check
// runs inside the same transaction as the account lock, so concurrent
// settlement paths (worker failure, cancellation, queue redelivery) serialize
// on the lock and at most one refund entry can ever be written.
func (s *service) RefundJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.Cost <= 0 {
		return nil
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.ledger.LockUser(ctx, tx, job.UserID); err != nil {
		return err
	}
	refunded, err := s.ledger.HasEntry(ctx, tx, jobID, models.LedgerReasonJobRefund)
	if err != nil {
		return err
	}
	if refunded {
		return nil
	}
	if _, err := s.ledger.ApplyDelta(ctx, tx, job.UserID, job.Cost, models.LedgerReasonJobRefund, &jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LoadJob implements execution.JobService. A missing job resolves to nil so
// the worker can treat stale deliveries as no-ops.
func (s *service) LoadJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetByID(ctx, jobID)
}

// MarkJobRunning implements execution.JobService.
func (s *service) MarkJobRunning(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return s.store.MarkRunning(ctx, jobID)
}

// CompleteJob implements execution.JobService. Returns false when the job is
// no longer running (canceled underneath the worker); the result is then
// discarded and the cancellation's refund stands.
func (s *service) CompleteJob(ctx context.Context, jobID uuid.UUID, result *models.JobResult, files []models.StoredFile) (bool, error) {
	rawResult, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	var rawFiles json.RawMessage
	if len(files) > 0 {
		rawFiles, err = json.Marshal(files)
		if err != nil {
			return false, err
		}
	}
	return s.store.MarkDone(ctx, jobID, rawResult, rawFiles)
}

// FailJob implements execution.JobService. The refund only fires when this
// call actually performed the running -> error transition; a lost race means
// another settlement path already owns the job's terminal state.
func (s *service) FailJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	failed, err := s.store.MarkFailed(ctx, jobID, reason)
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}
	return s.RefundJob(ctx, jobID)
}

// DefaultListLimit caps unauthenticated pagination input.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampPage normalizes user-supplied pagination values.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
