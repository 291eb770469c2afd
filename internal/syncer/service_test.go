package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investcore/internal/auth"
	"investcore/internal/common/money"
	"investcore/internal/domain"
	"investcore/internal/remote"
)

// fakeStore is an in-memory Store keyed the same way the real one is:
// bank accounts by external id, financial transactions by remote id.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]*domain.BankAccount
	accountPuts  int
	financial    map[string]*domain.FinancialTransaction
	states       map[string]*domain.WalletState
	lastSyncUser string
	lastSyncSt   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  make(map[string]*domain.BankAccount),
		financial: make(map[string]*domain.FinancialTransaction),
		states:    make(map[string]*domain.WalletState),
	}
}

func (f *fakeStore) UpsertBankAccount(_ context.Context, account *domain.BankAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *account
	if existing, ok := f.accounts[account.ExternalID]; ok {
		cp.ID = existing.ID
		cp.IsActive = existing.IsActive
	}
	f.accounts[account.ExternalID] = &cp
	f.accountPuts++
	return nil
}

func (f *fakeStore) UpsertFinancialTransaction(_ context.Context, txn *domain.FinancialTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *txn
	f.financial[txn.RemoteID] = &cp
	return nil
}

func (f *fakeStore) SumFinancialEntries(_ context.Context, userID string) (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var credits, debits float64
	for _, t := range f.financial {
		if t.UserID != userID {
			continue
		}
		if t.EntryType == domain.EntryCredit {
			credits += t.Amount
		} else {
			debits += t.Amount
		}
	}
	return money.Round(credits), money.Round(debits), nil
}

func (f *fakeStore) GetWalletState(_ context.Context, userID string) (*domain.WalletState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[userID]
	if !ok {
		return nil, errors.New("fake: not found")
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) SetLastSync(_ context.Context, userID, status string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSyncUser = userID
	f.lastSyncSt = status
	return nil
}

// fakeRemote serves a fixed payload and counts calls.
type fakeRemote struct {
	mu           sync.Mutex
	accounts     []*domain.BankAccount
	financial    []*domain.FinancialTransaction
	failAccounts error
	accountCalls int
	pageCalls    int
}

func (f *fakeRemote) ListBankAccounts(_ context.Context, _ string) ([]*domain.BankAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.failAccounts != nil {
		return nil, f.failAccounts
	}
	out := make([]*domain.BankAccount, len(f.accounts))
	for i, a := range f.accounts {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}

func (f *fakeRemote) ListFinancialTransactions(_ context.Context, _ string, page, pageSize int) (*remote.FinancialPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(f.financial) {
		start = len(f.financial)
	}
	if end > len(f.financial) {
		end = len(f.financial)
	}

	items := make([]*domain.FinancialTransaction, 0, end-start)
	for _, t := range f.financial[start:end] {
		cp := *t
		items = append(items, &cp)
	}
	return &remote.FinancialPage{Items: items, Total: len(f.financial)}, nil
}

// fakeTokens is a TokenProvider with a switchable session.
type fakeTokens struct {
	mu    sync.Mutex
	token string
}

func (f *fakeTokens) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", auth.ErrNoToken
	}
	return f.token, nil
}

func (f *fakeTokens) UserID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", auth.ErrNoToken
	}
	return "user-1", nil
}

func newTestService(cfg Config, store Store, rem Remote, tokens auth.TokenProvider) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(cfg, store, rem, tokens, nil, logger)
}

func account(externalID string) *domain.BankAccount {
	return &domain.BankAccount{
		UserID:        "user-1",
		ExternalID:    externalID,
		HolderName:    "Asha Rao",
		BankName:      "HDFC",
		AccountNumber: "0012345678",
		IFSCCode:      "HDFC0001234",
		AccountType:   "SAVINGS",
		IsVerified:    true,
	}
}

func finTxn(remoteID string, entryType domain.EntryType, amount float64) *domain.FinancialTransaction {
	return &domain.FinancialTransaction{
		RemoteID:  remoteID,
		UserID:    "user-1",
		EntryType: entryType,
		Amount:    amount,
	}
}

func TestManualSync_IdempotentBankAccountIngestion(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{accounts: []*domain.BankAccount{account("ext-1"), account("ext-2")}}
	svc := newTestService(Config{PageSize: 100, MaxRetries: 1, RetryDelay: time.Millisecond}, store, rem, &fakeTokens{token: "tok"})

	_, err := svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, store.accounts, 2)

	// Second sync with the same payload updates in place, no duplicates.
	rem.mu.Lock()
	rem.accounts[0].HolderName = "Asha R. Rao"
	rem.mu.Unlock()

	_, err = svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, store.accounts, 2)
	assert.Equal(t, "Asha R. Rao", store.accounts["ext-1"].HolderName)
	assert.Equal(t, 4, store.accountPuts)
	assert.Equal(t, "SUCCESS", store.lastSyncSt)
}

func TestManualSync_NoTokenSkips(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{accounts: []*domain.BankAccount{account("ext-1")}}
	svc := newTestService(Config{PageSize: 100}, store, rem, &fakeTokens{})

	_, err := svc.TriggerManualSync(context.Background(), "user-1")
	assert.ErrorIs(t, err, auth.ErrNoToken)
	assert.Equal(t, 0, rem.accountCalls)
	assert.Empty(t, store.accounts)
}

func TestManualSync_PaginatedReconciliation(t *testing.T) {
	store := newFakeStore()

	var feed []*domain.FinancialTransaction
	for i := 0; i < 230; i++ {
		feed = append(feed, finTxn(ulidLike(i), domain.EntryCredit, 10))
	}
	// A few debits interleaved by id.
	feed = append(feed,
		finTxn("debit-1", domain.EntryDebit, 500),
		finTxn("debit-2", domain.EntryDebit, 300),
	)

	rem := &fakeRemote{financial: feed}
	svc := newTestService(Config{PageSize: 100}, store, rem, &fakeTokens{token: "tok"})

	result, err := svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)

	// 232 records over page size 100 is three pages.
	assert.Equal(t, 3, rem.pageCalls)
	assert.Equal(t, 232, result.FinancialTransactions)
	assert.Len(t, store.financial, 232)

	// 230 credits of 10 minus 800 of debits.
	assert.InDelta(t, 1500.0, result.WalletValue, money.Epsilon)
}

func ulidLike(i int) string {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second).Format("20060102150405")
}

func TestManualSync_ReconciliationIsIdempotent(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{financial: []*domain.FinancialTransaction{
		finTxn("r-1", domain.EntryCredit, 1000),
		finTxn("r-2", domain.EntryDebit, 400),
	}}
	svc := newTestService(Config{PageSize: 100}, store, rem, &fakeTokens{token: "tok"})

	first, err := svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Len(t, store.financial, 2)
	assert.Equal(t, first.WalletValue, second.WalletValue)
	assert.InDelta(t, 600.0, second.WalletValue, money.Epsilon)
}

func TestManualSync_RemoteFailure(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{failAccounts: errors.New("boom")}
	svc := newTestService(Config{PageSize: 100}, store, rem, &fakeTokens{token: "tok"})

	_, err := svc.TriggerManualSync(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrRemoteSync)
}

func TestSyncWithRetry_BoundedFixedDelay(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{failAccounts: errors.New("remote down")}
	svc := newTestService(Config{
		PageSize:   100,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, store, rem, &fakeTokens{token: "tok"})

	svc.syncWithRetry(context.Background(), "user-1")

	// One initial attempt plus maxRetries retries, then the cycle is
	// abandoned and reported through the status surface only.
	assert.Equal(t, 4, rem.accountCalls)

	status := svc.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, "FAILED", status.LastResult)
	assert.Equal(t, 3, status.LastRetries)
	assert.NotEmpty(t, status.LastError)
}

func TestSyncWithRetry_RecoversWithinBudget(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{failAccounts: errors.New("flaky")}
	svc := newTestService(Config{
		PageSize:   100,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, store, rem, &fakeTokens{token: "tok"})

	// Heal the remote after the first failure.
	go func() {
		time.Sleep(500 * time.Microsecond)
		rem.mu.Lock()
		rem.failAccounts = nil
		rem.mu.Unlock()
	}()

	svc.syncWithRetry(context.Background(), "user-1")

	status := svc.Status()
	assert.Equal(t, "SUCCESS", status.LastResult)
	assert.LessOrEqual(t, status.LastRetries, 3)
}

func TestStartStop_Idempotent(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{}
	svc := newTestService(Config{
		Interval:   time.Hour,
		PageSize:   100,
		RetryDelay: time.Millisecond,
	}, store, rem, &fakeTokens{token: "tok"})

	svc.Start("user-1")
	svc.Start("user-1") // no-op

	assert.Eventually(t, func() bool {
		return svc.Status().CyclesRun >= 1
	}, time.Second, 5*time.Millisecond)

	// Exactly one immediate cycle despite two Start calls.
	assert.Equal(t, int64(1), svc.Status().CyclesRun)

	svc.Stop()
	svc.Stop() // idempotent
}

func TestStart_UserSwitchRestartsTimer(t *testing.T) {
	store := newFakeStore()
	rem := &fakeRemote{}
	svc := newTestService(Config{
		Interval:   time.Hour,
		PageSize:   100,
		RetryDelay: time.Millisecond,
	}, store, rem, &fakeTokens{token: "tok"})

	svc.Start("user-1")
	assert.Eventually(t, func() bool {
		return svc.Status().CyclesRun >= 1
	}, time.Second, 5*time.Millisecond)

	svc.Start("user-2")
	assert.Eventually(t, func() bool {
		return svc.Status().CyclesRun >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "user-2", svc.Status().UserID)
	svc.Stop()
}

func TestPerformSync_DegradedWithoutStore(t *testing.T) {
	rem := &fakeRemote{accounts: []*domain.BankAccount{account("ext-1")}}
	svc := newTestService(Config{PageSize: 100}, nil, rem, &fakeTokens{token: "tok"})

	result, err := svc.TriggerManualSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, result.BankAccounts)
	assert.Equal(t, 0, rem.accountCalls)
}
