package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/models"
)

// In-memory stand-in for ledger.Service; mutations apply immediately and the
// transaction object is inert.

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type mockLedger struct {
	balances map[uuid.UUID]int64
	entries  []*models.LedgerEntry
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[uuid.UUID]int64)}
}

func (m *mockLedger) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (m *mockLedger) LockUser(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.User, error) {
	balance, ok := m.balances[userID]
	if !ok {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return &models.User{ID: userID, Balance: balance}, nil
}

func (m *mockLedger) ApplyDelta(_ context.Context, _ pgx.Tx, userID uuid.UUID, delta int64, reason string, jobID *uuid.UUID) (*models.LedgerEntry, error) {
	if m.balances[userID]+delta < 0 {
		return nil, ledger.ErrInsufficientFunds
	}
	m.balances[userID] += delta
	entry := &models.LedgerEntry{
		ID: uuid.New(), UserID: userID, Delta: delta, Reason: reason, JobID: jobID, CreatedAt: time.Now(),
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *mockLedger) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	return m.balances[userID], nil
}

func (m *mockLedger) HasEntry(context.Context, pgx.Tx, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (m *mockLedger) ListEntries(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, int, error) {
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *mockLedger) CheckConsistency(_ context.Context, userID uuid.UUID) error {
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

var _ ledger.Service = (*mockLedger)(nil)

var testPackages = []int64{100, 300, 500}

func TestTopUp(t *testing.T) {
	mock := newMockLedger()
	user := uuid.New()
	mock.balances[user] = 25
	svc := NewService(mock, nil, testPackages, nil)

	balance, err := svc.TopUp(context.Background(), user, 300)
	if err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if balance != 325 {
		t.Errorf("balance: got %d, want 325", balance)
	}
	if len(mock.entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(mock.entries))
	}
	if e := mock.entries[0]; e.Reason != models.LedgerReasonTopupMock || e.Delta != 300 {
		t.Errorf("entry: got %+v", e)
	}
}

func TestTopUpRejectsUnknownPackage(t *testing.T) {
	mock := newMockLedger()
	user := uuid.New()
	mock.balances[user] = 0
	svc := NewService(mock, nil, testPackages, nil)

	for _, amount := range []int64{0, -100, 1, 250, 10000} {
		if _, err := svc.TopUp(context.Background(), user, amount); !errors.Is(err, ErrInvalidPackage) {
			t.Errorf("amount %d: expected ErrInvalidPackage, got: %v", amount, err)
		}
	}
	if len(mock.entries) != 0 {
		t.Errorf("no entries expected, got %d", len(mock.entries))
	}
}

func TestLedgerListing(t *testing.T) {
	mock := newMockLedger()
	user := uuid.New()
	other := uuid.New()
	mock.balances[user] = 0
	mock.balances[other] = 0
	svc := NewService(mock, nil, testPackages, nil)

	ctx := context.Background()
	if _, err := svc.TopUp(ctx, user, 100); err != nil {
		t.Fatalf("TopUp: %v", err)
	}
	if _, err := svc.TopUp(ctx, other, 500); err != nil {
		t.Fatalf("TopUp: %v", err)
	}

	items, total, err := svc.Ledger(ctx, user, 20, 0)
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].UserID != user {
		t.Errorf("ledger should only show the user's entries: total %d, items %d", total, len(items))
	}
}
