package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investcore/internal/common/events"
	"investcore/internal/domain"
)

var errFakeNotFound = errors.New("fake: not found")

// fakeStore is an in-memory Store for service tests.
type fakeStore struct {
	mu        sync.Mutex
	txns      map[string]*domain.WalletTransaction
	order     []string
	states    map[string]*domain.WalletState
	audits    []*domain.AuditLogEntry
	snapshots []*domain.BalanceSnapshot

	failSaveState bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txns:   make(map[string]*domain.WalletTransaction),
		states: make(map[string]*domain.WalletState),
	}
}

func (f *fakeStore) CreateTransaction(_ context.Context, txn *domain.WalletTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *txn
	f.txns[txn.ID] = &cp
	f.order = append(f.order, txn.ID)
	return nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id string) (*domain.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.txns[id]
	if !ok {
		return nil, errFakeNotFound
	}
	cp := *txn
	return &cp, nil
}

func (f *fakeStore) ListTransactionsByUser(_ context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WalletTransaction
	for i := len(f.order) - 1; i >= 0; i-- {
		t := f.txns[f.order[i]]
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListCompletedTransactions(_ context.Context, userID string) ([]*domain.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WalletTransaction
	for _, id := range f.order {
		t := f.txns[id]
		if t.UserID == userID && t.Status == domain.StatusCompleted {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) FinalizeTransaction(_ context.Context, txn *domain.WalletTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.txns[txn.ID]
	if !ok || existing.Status != domain.StatusPending {
		return errFakeNotFound
	}
	cp := *txn
	f.txns[txn.ID] = &cp
	return nil
}

func (f *fakeStore) CountTransactionsByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.txns {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetWalletState(_ context.Context, userID string) (*domain.WalletState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[userID]
	if !ok {
		return nil, errFakeNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) SaveWalletState(_ context.Context, st *domain.WalletState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveState {
		return errors.New("fake: save state failed")
	}
	cp := *st
	f.states[st.UserID] = &cp
	return nil
}

func (f *fakeStore) AppendAuditLog(_ context.Context, entry *domain.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.audits = append(f.audits, &cp)
	return nil
}

func (f *fakeStore) ListAuditLogsByUser(_ context.Context, userID string, limit int) ([]*domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.AuditLogEntry
	for i := len(f.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if f.audits[i].UserID == userID {
			out = append(out, f.audits[i])
		}
	}
	return out, nil
}

func (f *fakeStore) CreateSnapshot(_ context.Context, snap *domain.BalanceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snap
	f.snapshots = append(f.snapshots, &cp)
	return nil
}

func (f *fakeStore) ListSnapshotsByUser(_ context.Context, userID string, limit int) ([]*domain.BalanceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BalanceSnapshot
	for i := len(f.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if f.snapshots[i].UserID == userID {
			out = append(out, f.snapshots[i])
		}
	}
	return out, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (f *fakePublisher) Publish(_ context.Context, event *events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(store Store) (*Service, *fakePublisher) {
	pub := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, pub, func(err error) bool {
		return errors.Is(err, errFakeNotFound)
	}, logger), pub
}

func record(t *testing.T, svc *Service, userID string, txType domain.TransactionType, amount float64) *domain.WalletTransaction {
	t.Helper()
	txn, err := svc.RecordTransaction(context.Background(), RecordTransactionRequest{
		UserID: userID,
		Type:   txType,
		Amount: amount,
		Source: domain.SourceManual,
	})
	require.NoError(t, err)
	return txn
}

func TestRecordTransaction_BalanceArithmetic(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 1000)
	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, st.Balance)

	record(t, svc, userID, domain.TypeInvestment, 400)
	st, err = svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 600.0, st.Balance)
	assert.Equal(t, 400.0, st.TotalInvested)

	record(t, svc, userID, domain.TypeProfit, 50)
	st, err = svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 650.0, st.Balance)
	assert.Equal(t, 50.0, st.ProfitEarned)

	report, err := svc.VerifyIntegrity(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 3, report.TransactionCount)
}

func TestRecordTransaction_InsufficientBalance(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 650)

	before, err := svc.GetState(ctx, userID)
	require.NoError(t, err)

	_, err = svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeWithdraw,
		Amount: 700,
		Source: domain.SourceManual,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	after, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.Version, after.Version)

	count, err := svc.ListTransactions(ctx, userID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, count, 1)
}

func TestRecordTransaction_SpendExactBalance(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 100)
	record(t, svc, userID, domain.TypeInvestment, 100)

	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, st.Balance)

	report, err := svc.VerifyIntegrity(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestRecordTransaction_EntryTypeAndVoucher(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 500)
	credit := record(t, svc, userID, domain.TypeAddFunds, 100)
	debit := record(t, svc, userID, domain.TypeWithdraw, 100)

	assert.Equal(t, domain.EntryCredit, credit.EntryType)
	assert.Equal(t, domain.EntryDebit, debit.EntryType)
	assert.NotEmpty(t, credit.VoucherNumber)
	assert.NotEqual(t, credit.VoucherNumber, debit.VoucherNumber)
	assert.NotEqual(t, credit.ID, debit.ID)
}

func TestRecordTransaction_InvalidInput(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: "user-1",
		Type:   "TRANSFER",
		Amount: 10,
		Source: domain.SourceManual,
	})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: "user-1",
		Type:   domain.TypeAddFunds,
		Amount: -10,
		Source: domain.SourceManual,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRecordTransaction_AdjustmentSignedDelta(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 100)

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeAdjustment,
		Amount: -30,
		Source: domain.SourceSystem,
	})
	require.NoError(t, err)

	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, st.Balance)
	assert.Equal(t, -30.0, st.TotalAdjustments)

	report, err := svc.VerifyIntegrity(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestPendingTransaction_SettlementAppliesOnce(t *testing.T) {
	store := newFakeStore()
	svc, pub := newTestService(store)
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 1000)

	pending, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeInvestment,
		Amount: 400,
		Source: domain.SourceCashfree,
		Status: domain.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, pending.Status)

	// The pending debit reserves funds but leaves the balance untouched.
	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, st.Balance)
	assert.Equal(t, 400.0, st.PendingBalance)
	assert.Equal(t, 600.0, st.AvailableBalance)

	// A second debit larger than the available balance is rejected even
	// though the raw balance would cover it.
	_, err = svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeWithdraw,
		Amount: 700,
		Source: domain.SourceManual,
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	settled, err := svc.CompleteTransaction(ctx, userID, pending.ID, "cf_order_123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	assert.Equal(t, "cf_order_123", settled.GatewayRef)

	st, err = svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 600.0, st.Balance)
	assert.Equal(t, 0.0, st.PendingBalance)
	assert.Equal(t, 400.0, st.TotalInvested)

	// Settling twice must fail; the balance effect applies exactly once.
	_, err = svc.CompleteTransaction(ctx, userID, pending.ID, "cf_order_123")
	assert.Error(t, err)

	st, err = svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 600.0, st.Balance)

	assert.Contains(t, pub.types(), events.EventTransactionSettled)
}

func TestAbortTransaction_ReleasesReservation(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 500)

	pending, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeWithdraw,
		Amount: 200,
		Source: domain.SourceCashfree,
		Status: domain.StatusPending,
	})
	require.NoError(t, err)

	aborted, err := svc.AbortTransaction(ctx, userID, pending.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, aborted.Status)

	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, st.Balance)
	assert.Equal(t, 0.0, st.PendingBalance)
	assert.Equal(t, 500.0, st.AvailableBalance)
}

func TestVerifyIntegrity_DetectsDrift(t *testing.T) {
	store := newFakeStore()
	svc, pub := newTestService(store)
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 1000)

	// Corrupt the stored state behind the service's back.
	store.mu.Lock()
	store.states[userID].Balance = 900
	store.mu.Unlock()

	report, err := svc.VerifyIntegrity(ctx, userID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 1000.0, report.ExpectedBalance)
	assert.Equal(t, 900.0, report.StoredBalance)

	// Mismatch is reported, never auto-corrected.
	st, err := svc.GetState(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 900.0, st.Balance)

	assert.Contains(t, pub.types(), events.EventIntegrityMismatch)

	var mismatchAudited bool
	for _, a := range store.audits {
		if a.Action == "INTEGRITY_MISMATCH" && a.Actor == domain.ActorSystem {
			mismatchAudited = true
		}
	}
	assert.True(t, mismatchAudited)
}

func TestVerifyIntegrity_IgnoresNonCompleted(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 300)

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: userID,
		Type:   domain.TypeInvestment,
		Amount: 100,
		Source: domain.SourceCashfree,
		Status: domain.StatusPending,
	})
	require.NoError(t, err)

	report, err := svc.VerifyIntegrity(ctx, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, report.TransactionCount)
}

func TestCreateSnapshot(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 1000)
	record(t, svc, userID, domain.TypeInvestment, 250)

	snap, err := svc.CreateSnapshot(ctx, userID, domain.SnapshotManual)
	require.NoError(t, err)
	assert.Equal(t, 750.0, snap.Balance)
	assert.Equal(t, 250.0, snap.TotalInvested)
	assert.Equal(t, int64(2), snap.TransactionCount)

	snaps, err := svc.ListSnapshots(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestAuditTrail_WrittenPerTransaction(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	ctx := context.Background()
	userID := "user-1"

	record(t, svc, userID, domain.TypeAddFunds, 100)
	record(t, svc, userID, domain.TypeWithdraw, 40)

	logs, err := svc.ListAuditLogs(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, "TRANSACTION_WITHDRAW", logs[0].Action)
	assert.Equal(t, domain.ActorUser, logs[0].Actor)
}

func TestDegradedMode_NoStore(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		UserID: "user-1",
		Type:   domain.TypeAddFunds,
		Amount: 100,
		Source: domain.SourceManual,
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = svc.GetState(ctx, "user-1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	_, err = svc.VerifyIntegrity(ctx, "user-1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}
