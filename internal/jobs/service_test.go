package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pelicanone/backend/internal/config"
	"github.com/pelicanone/backend/internal/execution"
	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/models"
	"github.com/pelicanone/backend/internal/presets"
)

// ---------------------------------------------------------------------------
// In-memory mocks for Store and ledger.Service. These let us test the real
// charge/refund/settlement logic without a database. The fake transaction
// only tracks commit/rollback; mock mutations apply immediately.
// ---------------------------------------------------------------------------

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type mockLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  []*models.LedgerEntry
	lastTx   *fakeTx
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[uuid.UUID]int64)}
}

func (m *mockLedger) Begin(context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTx = &fakeTx{}
	return m.lastTx, nil
}

func (m *mockLedger) LockUser(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return &models.User{ID: userID, Balance: balance}, nil
}

func (m *mockLedger) ApplyDelta(_ context.Context, _ pgx.Tx, userID uuid.UUID, delta int64, reason string, jobID *uuid.UUID) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[userID]+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}
	m.balances[userID] += delta
	entry := &models.LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		JobID:     jobID,
		CreatedAt: time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *mockLedger) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *mockLedger) HasEntry(_ context.Context, _ pgx.Tx, jobID uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.JobID != nil && *e.JobID == jobID && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLedger) ListEntries(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *mockLedger) CheckConsistency(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	if sum != m.balances[userID] {
		return fmt.Errorf("balance %d does not match ledger sum %d", m.balances[userID], sum)
	}
	return nil
}

func (m *mockLedger) byReason(reason string) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.Reason == reason {
			out = append(out, e)
		}
	}
	return out
}

var _ ledger.Service = (*mockLedger)(nil)

// ---

type mockStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *mockStore) CreateTx(_ context.Context, _ pgx.Tx, userID uuid.UUID, jobType string, payload json.RawMessage, cost int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &models.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      jobType,
		Status:    models.JobStatusQueued,
		Provider:  "genapi",
		Payload:   payload,
		Cost:      cost,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *mockStore) GetByID(_ context.Context, jobID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *mockStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockStore) transition(jobID uuid.UUID, from []string, to string, mutate func(*models.Job)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if job.Status == s {
			job.Status = to
			if mutate != nil {
				mutate(job)
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) MarkRunning(_ context.Context, jobID uuid.UUID) (bool, error) {
	return m.transition(jobID, []string{models.JobStatusQueued}, models.JobStatusRunning, nil)
}

func (m *mockStore) MarkDone(_ context.Context, jobID uuid.UUID, result, resultFiles json.RawMessage) (bool, error) {
	return m.transition(jobID, []string{models.JobStatusRunning}, models.JobStatusDone, func(j *models.Job) {
		j.Result = result
		j.ResultFiles = resultFiles
	})
}

func (m *mockStore) MarkFailed(_ context.Context, jobID uuid.UUID, message string) (bool, error) {
	return m.transition(jobID, []string{models.JobStatusRunning}, models.JobStatusError, func(j *models.Job) {
		j.Error = &message
	})
}

func (m *mockStore) MarkCanceled(_ context.Context, jobID uuid.UUID) (bool, error) {
	return m.transition(jobID, []string{models.JobStatusQueued, models.JobStatusRunning}, models.JobStatusCanceled, nil)
}

var _ Store = (*mockStore)(nil)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var testCosts = config.CostTable{Text: 1, Image: 10, Video: 50, Audio: 5, Upscale: 3, Edit: 8}

type testEnv struct {
	svc      *service
	store    *mockStore
	ledger   *mockLedger
	enqueued []execution.RunJobArgs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := presets.NewCatalog()
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	env := &testEnv{store: newMockStore(), ledger: newMockLedger()}
	insert := func(_ context.Context, _ pgx.Tx, args execution.RunJobArgs) error {
		env.enqueued = append(env.enqueued, args)
		return nil
	}
	env.svc = NewService(env.store, env.ledger, catalog, testCosts, insert)
	return env
}

func imagePayload() json.RawMessage {
	return json.RawMessage(`{"network_id":"gpt-image-1-5","params":{"prompt":"a lighthouse at dusk"}}`)
}

// ---------------------------------------------------------------------------
// 1. TestCreateJobWithCharge
// ---------------------------------------------------------------------------

func TestCreateJobWithCharge(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 100

	ctx := context.Background()
	job, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("CreateJobWithCharge: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("status: got %q, want queued", job.Status)
	}
	if job.Cost != 10 {
		t.Errorf("cost: got %d, want 10", job.Cost)
	}

	// Balance debited by the image cost.
	if got := env.ledger.balances[user]; got != 90 {
		t.Errorf("balance after charge: got %d, want 90", got)
	}

	// Exactly one job_charge entry referencing the job.
	charges := env.ledger.byReason(models.LedgerReasonJobCharge)
	if len(charges) != 1 {
		t.Fatalf("job_charge entries: got %d, want 1", len(charges))
	}
	if charges[0].Delta != -10 {
		t.Errorf("charge delta: got %d, want -10", charges[0].Delta)
	}
	if charges[0].JobID == nil || *charges[0].JobID != job.ID {
		t.Error("charge entry should reference the job")
	}

	// Queue insert rode the same transaction, which committed.
	if len(env.enqueued) != 1 || env.enqueued[0].JobID != job.ID {
		t.Fatalf("enqueued: got %+v, want one entry for job %s", env.enqueued, job.ID)
	}
	if !env.ledger.lastTx.committed {
		t.Error("charge transaction should have committed")
	}

	// Stored payload is the normalized form: network id plus defaults.
	var normalized presets.NormalizedPayload
	if err := json.Unmarshal(job.Payload, &normalized); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if normalized.NetworkID != "gpt-image-1-5" {
		t.Errorf("network id: got %q, want gpt-image-1-5", normalized.NetworkID)
	}
	if normalized.Params["image_size"] != "1024x1024" {
		t.Errorf("default image_size missing: %+v", normalized.Params)
	}
}

// ---------------------------------------------------------------------------
// 2. TestCreateJobInsufficientFunds
// ---------------------------------------------------------------------------

func TestCreateJobInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 5 // image costs 10

	_, err := env.svc.CreateJobWithCharge(context.Background(), user, models.JobTypeImage, imagePayload())
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got: %v", err)
	}

	// Nothing was written and nothing enqueued.
	if got := env.ledger.balances[user]; got != 5 {
		t.Errorf("balance should be untouched: got %d, want 5", got)
	}
	if len(env.ledger.entries) != 0 {
		t.Errorf("expected no ledger entries, got %d", len(env.ledger.entries))
	}
	if len(env.enqueued) != 0 {
		t.Errorf("expected no queue inserts, got %d", len(env.enqueued))
	}
	if len(env.store.jobs) != 0 {
		t.Errorf("expected no job rows, got %d", len(env.store.jobs))
	}
	if env.ledger.lastTx.committed {
		t.Error("transaction should not have committed")
	}
}

// ---------------------------------------------------------------------------
// 3. TestCreateJobInvalidPayload
// ---------------------------------------------------------------------------

func TestCreateJobInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 100

	_, err := env.svc.CreateJobWithCharge(context.Background(), user, models.JobTypeImage,
		json.RawMessage(`{"network_id":"gpt-image-1-5","params":{}}`))
	if !errors.Is(err, presets.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
	var ve *presets.ValidationError
	if !errors.As(err, &ve) || ve.Code != "missing_param:prompt" {
		t.Errorf("validation code: got %v, want missing_param:prompt", err)
	}

	// Validation happens before any money moves.
	if got := env.ledger.balances[user]; got != 100 {
		t.Errorf("balance should be untouched: got %d, want 100", got)
	}
	if len(env.enqueued) != 0 {
		t.Errorf("expected no queue inserts, got %d", len(env.enqueued))
	}
}

// ---------------------------------------------------------------------------
// 4. TestCancelRefundsExactlyOnce
// ---------------------------------------------------------------------------

func TestCancelRefundsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 100

	ctx := context.Background()
	job, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("CreateJobWithCharge: %v", err)
	}

	canceled, err := env.svc.CancelJob(ctx, user, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if canceled.Status != models.JobStatusCanceled {
		t.Errorf("status: got %q, want canceled", canceled.Status)
	}
	if got := env.ledger.balances[user]; got != 100 {
		t.Errorf("balance after refund: got %d, want 100", got)
	}

	// A second cancel must fail and must not refund again.
	if _, err := env.svc.CancelJob(ctx, user, job.ID); !errors.Is(err, ErrCannotCancel) {
		t.Fatalf("expected ErrCannotCancel, got: %v", err)
	}
	refunds := env.ledger.byReason(models.LedgerReasonJobRefund)
	if len(refunds) != 1 {
		t.Fatalf("job_refund entries: got %d, want 1", len(refunds))
	}
	if refunds[0].Delta != 10 {
		t.Errorf("refund delta: got %d, want 10", refunds[0].Delta)
	}
}

// ---------------------------------------------------------------------------
// 5. TestFailJobRefundIdempotent
// ---------------------------------------------------------------------------

func TestFailJobRefundIdempotent(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 100

	ctx := context.Background()
	job, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("CreateJobWithCharge: %v", err)
	}
	if started, _ := env.svc.MarkJobRunning(ctx, job.ID); !started {
		t.Fatal("MarkJobRunning should win on a queued job")
	}

	if err := env.svc.FailJob(ctx, job.ID, "provider exploded"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if got := env.ledger.balances[user]; got != 100 {
		t.Errorf("balance after failure refund: got %d, want 100", got)
	}

	// Queue redelivery retries the failure; the refund must not repeat.
	if err := env.svc.FailJob(ctx, job.ID, "provider exploded again"); err != nil {
		t.Fatalf("FailJob (redelivery): %v", err)
	}
	refunds := env.ledger.byReason(models.LedgerReasonJobRefund)
	if len(refunds) != 1 {
		t.Fatalf("job_refund entries: got %d, want 1", len(refunds))
	}

	reloaded, _ := env.svc.GetJob(ctx, user, job.ID)
	if reloaded.Status != models.JobStatusError {
		t.Errorf("status: got %q, want error", reloaded.Status)
	}
	if reloaded.Error == nil || *reloaded.Error != "provider exploded" {
		t.Errorf("error message: got %v, want the first failure", reloaded.Error)
	}
}

// ---------------------------------------------------------------------------
// 6. TestCompleteJobLosesCancelRace
// ---------------------------------------------------------------------------

func TestCompleteJobLosesCancelRace(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	env.ledger.balances[user] = 100

	ctx := context.Background()
	job, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("CreateJobWithCharge: %v", err)
	}
	if started, _ := env.svc.MarkJobRunning(ctx, job.ID); !started {
		t.Fatal("MarkJobRunning should win on a queued job")
	}

	// User cancels while the worker is finishing.
	if _, err := env.svc.CancelJob(ctx, user, job.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	completed, err := env.svc.CompleteJob(ctx, job.ID, &models.JobResult{Type: models.JobTypeImage}, nil)
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if completed {
		t.Error("CompleteJob should lose against a canceled job")
	}

	// Cancellation's refund stands; the job stays canceled without a result.
	reloaded, _ := env.svc.GetJob(ctx, user, job.ID)
	if reloaded.Status != models.JobStatusCanceled {
		t.Errorf("status: got %q, want canceled", reloaded.Status)
	}
	if reloaded.Result != nil {
		t.Error("result should have been discarded")
	}
	if got := env.ledger.balances[user]; got != 100 {
		t.Errorf("balance: got %d, want 100", got)
	}
}

// ---------------------------------------------------------------------------
// 7. TestLedgerIntegrity
//    Mixed lifecycle: one success, one failure, one cancel. The sum of all
//    ledger deltas plus the initial balance must equal the final balance.
// ---------------------------------------------------------------------------

func TestLedgerIntegrity(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	const initial = int64(200)
	env.ledger.balances[user] = initial

	ctx := context.Background()

	// Success: charge sticks.
	done, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("create done job: %v", err)
	}
	env.svc.MarkJobRunning(ctx, done.ID)
	if ok, _ := env.svc.CompleteJob(ctx, done.ID, &models.JobResult{Type: models.JobTypeImage}, nil); !ok {
		t.Fatal("CompleteJob should win")
	}

	// Failure: charge refunded.
	failed, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeVideo,
		json.RawMessage(`{"network_id":"veo-3.1","params":{"prompt":"storm"}}`))
	if err != nil {
		t.Fatalf("create failed job: %v", err)
	}
	env.svc.MarkJobRunning(ctx, failed.ID)
	if err := env.svc.FailJob(ctx, failed.ID, "timeout"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	// Cancel: charge refunded.
	canceled, err := env.svc.CreateJobWithCharge(ctx, user, models.JobTypeText,
		json.RawMessage(`{"network_id":"grok-4-1","params":{"prompt":"haiku"}}`))
	if err != nil {
		t.Fatalf("create canceled job: %v", err)
	}
	if _, err := env.svc.CancelJob(ctx, user, canceled.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	var sum int64
	for _, e := range env.ledger.entries {
		sum += e.Delta
	}
	if got := env.ledger.balances[user]; got != initial+sum {
		t.Errorf("balance %d != initial %d + ledger sum %d", got, initial, sum)
	}
	// Only the successful job's cost is ultimately spent.
	if got := env.ledger.balances[user]; got != initial-10 {
		t.Errorf("final balance: got %d, want %d", got, initial-10)
	}
}

// ---------------------------------------------------------------------------
// 8. TestClampPage
// ---------------------------------------------------------------------------

func TestClampPage(t *testing.T) {
	cases := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultListLimit, 0},
		{-5, -3, DefaultListLimit, 0},
		{50, 10, 50, 10},
		{1000, 0, MaxListLimit, 0},
	}
	for _, c := range cases {
		gotLimit, gotOffset := ClampPage(c.limit, c.offset)
		if gotLimit != c.wantLimit || gotOffset != c.wantOffset {
			t.Errorf("ClampPage(%d, %d) = (%d, %d), want (%d, %d)",
				c.limit, c.offset, gotLimit, gotOffset, c.wantLimit, c.wantOffset)
		}
	}
}

// ---------------------------------------------------------------------------
// 9. TestCancelRejectsForeignJob
// ---------------------------------------------------------------------------

func TestCancelRejectsForeignJob(t *testing.T) {
	env := newTestEnv(t)
	owner := uuid.New()
	stranger := uuid.New()
	env.ledger.balances[owner] = 100
	env.ledger.balances[stranger] = 100

	ctx := context.Background()
	job, err := env.svc.CreateJobWithCharge(ctx, owner, models.JobTypeImage, imagePayload())
	if err != nil {
		t.Fatalf("CreateJobWithCharge: %v", err)
	}

	if _, err := env.svc.CancelJob(ctx, stranger, job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}

	got, err := env.svc.GetJob(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobStatusQueued {
		t.Errorf("status: got %q, want queued", got.Status)
	}
	if refunds := env.ledger.byReason(models.LedgerReasonJobRefund); len(refunds) != 0 {
		t.Errorf("job_refund entries: got %d, want 0", len(refunds))
	}
}
