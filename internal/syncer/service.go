// Package syncer reconciles the local store with the remote system of
// record. One instance runs process-wide; the composition root owns it. Each
// cycle pulls bank accounts and the paginated financial transaction feed,
// upserts them into the store, then recomputes the remote-authoritative
// wallet value and compares it against the ledger-derived balance. The two
// values stay independent; a divergence is reported, never merged away.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"investcore/internal/auth"
	"investcore/internal/common/events"
	"investcore/internal/common/money"
	"investcore/internal/domain"
	"investcore/internal/remote"
)

// ErrRemoteSync is returned by TriggerManualSync after a cycle fails.
var ErrRemoteSync = errors.New("remote sync failed")

// Config holds sync service configuration.
type Config struct {
	Interval   time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
	MaxRetries int           `envconfig:"SYNC_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `envconfig:"SYNC_RETRY_DELAY" default:"5s"`
	PageSize   int           `envconfig:"SYNC_PAGE_SIZE" default:"100"`
}

// Store persists synced records and the sync outcome.
type Store interface {
	UpsertBankAccount(ctx context.Context, account *domain.BankAccount) error
	UpsertFinancialTransaction(ctx context.Context, txn *domain.FinancialTransaction) error
	SumFinancialEntries(ctx context.Context, userID string) (credits, debits float64, err error)
	GetWalletState(ctx context.Context, userID string) (*domain.WalletState, error)
	SetLastSync(ctx context.Context, userID, status string, at time.Time) error
}

// Remote fetches records from the system of record.
type Remote interface {
	ListBankAccounts(ctx context.Context, userID string) ([]*domain.BankAccount, error)
	ListFinancialTransactions(ctx context.Context, userID string, page, pageSize int) (*remote.FinancialPage, error)
}

// State is the sync service's cycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Status is a point-in-time snapshot of the sync service.
type Status struct {
	State           State      `json:"state"`
	UserID          string     `json:"user_id,omitempty"`
	LastResult      string     `json:"last_result,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastRetries     int        `json:"last_retries"`
	LastStartedAt   *time.Time `json:"last_started_at,omitempty"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CyclesRun       int64      `json:"cycles_run"`
}

// Result summarizes one completed sync cycle.
type Result struct {
	BankAccounts          int
	FinancialTransactions int
	WalletValue           float64
	ProfitEstimate        float64
}

// Service is the background sync service.
type Service struct {
	cfg       Config
	store     Store
	remote    Remote
	tokens    auth.TokenProvider
	publisher events.EventPublisher
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	userID string
	status Status
}

// NewService creates a sync service. A nil store puts the service in
// degraded mode: cycles are skipped until a store is available.
func NewService(cfg Config, store Store, rem Remote, tokens auth.TokenProvider, publisher events.EventPublisher, logger *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		remote:    rem,
		tokens:    tokens,
		publisher: publisher,
		logger:    logger,
		status:    Status{State: StateIdle},
	}
}

// Start begins periodic syncing for a user: one immediate cycle, then one
// per interval. Starting while already running for the same user is a
// logged no-op. Starting for a different user stops the previous timer
// first; an in-flight cycle is left to finish on its own.
func (s *Service) Start(userID string) {
	s.mu.Lock()
	if s.cancel != nil {
		if s.userID == userID {
			s.mu.Unlock()
			s.logger.Info("sync already running, start ignored", "user_id", userID)
			return
		}
		s.cancel()
		s.logger.Info("sync user switched, previous timer stopped",
			"previous_user_id", s.userID, "user_id", userID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.userID = userID
	s.status.UserID = userID
	s.mu.Unlock()

	go s.run(ctx, userID)

	s.logger.Info("sync started", "user_id", userID, "interval", s.cfg.Interval)
}

// Stop cancels the recurring timer. Idempotent; does not interrupt an
// in-flight cycle.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.userID = ""
	s.logger.Info("sync stopped")
}

// TriggerManualSync runs one sync cycle now and reports the outcome to the
// caller. It does not touch the recurring timer or its retry accounting.
func (s *Service) TriggerManualSync(ctx context.Context, userID string) (*Result, error) {
	result, err := s.performSync(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteSync, err)
	}
	return result, nil
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if s.cancel != nil && st.State == StateIdle {
		st.UserID = s.userID
	}
	return st
}

func (s *Service) run(ctx context.Context, userID string) {
	s.syncWithRetry(ctx, userID)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncWithRetry(ctx, userID)
		}
	}
}

// syncWithRetry runs one cycle with fixed-delay retries. After the retry
// budget is spent the cycle is abandoned until the next interval; failures
// here are reported through Status and events only, never to the user.
func (s *Service) syncWithRetry(ctx context.Context, userID string) {
	started := time.Now().UTC()

	s.mu.Lock()
	s.status.State = StateRunning
	s.status.LastStartedAt = &started
	s.mu.Unlock()

	var result *Result
	var err error
	retries := 0

	for {
		result, err = s.performSync(ctx, userID)
		if err == nil || errors.Is(err, auth.ErrNoToken) {
			break
		}
		if retries >= s.cfg.MaxRetries {
			break
		}
		retries++
		s.logger.Warn("sync cycle failed, retrying",
			"user_id", userID, "retry", retries, "max_retries", s.cfg.MaxRetries, "error", err)

		select {
		case <-ctx.Done():
			s.finishCycle(userID, started, retries, nil, ctx.Err())
			return
		case <-time.After(s.cfg.RetryDelay):
		}
	}

	s.finishCycle(userID, started, retries, result, err)
}

func (s *Service) finishCycle(userID string, started time.Time, retries int, result *Result, err error) {
	completed := time.Now().UTC()

	s.mu.Lock()
	s.status.State = StateIdle
	s.status.LastCompletedAt = &completed
	s.status.LastRetries = retries
	s.status.CyclesRun++
	switch {
	case err == nil:
		s.status.LastResult = "SUCCESS"
		s.status.LastError = ""
	case errors.Is(err, auth.ErrNoToken):
		s.status.LastResult = "SKIPPED"
		s.status.LastError = ""
	default:
		s.status.LastResult = "FAILED"
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	ctx := context.Background()

	switch {
	case err == nil:
		s.publish(ctx, events.EventSyncCompleted, userID, events.SyncResultData{
			BankAccounts:          result.BankAccounts,
			FinancialTransactions: result.FinancialTransactions,
			WalletValue:           result.WalletValue,
			Retries:               retries,
		})
	case errors.Is(err, auth.ErrNoToken):
		s.logger.Debug("sync skipped, no session", "user_id", userID)
	default:
		s.logger.Error("sync cycle abandoned",
			"user_id", userID, "retries", retries, "error", err)
		s.publish(ctx, events.EventSyncFailed, userID, events.SyncResultData{
			Retries: retries,
			Error:   err.Error(),
		})
	}
}

// performSync runs a single cycle: token gate, bank accounts, then the
// financial transaction feed and balance recomputation.
func (s *Service) performSync(ctx context.Context, userID string) (*Result, error) {
	if _, err := s.tokens.Token(); err != nil {
		return nil, err
	}
	if s.store == nil {
		// Degraded mode: nowhere to put the records, skip quietly.
		s.logger.Debug("sync skipped, storage unavailable", "user_id", userID)
		return &Result{}, nil
	}

	result := &Result{}

	accounts, err := s.remote.ListBankAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching bank accounts: %w", err)
	}
	now := time.Now().UTC()
	for _, account := range accounts {
		// Fresh inserts need a local key; on conflict the existing key wins.
		account.ID = ulid.Make().String()
		account.CreatedAt = now
		account.UpdatedAt = now
		if err := s.store.UpsertBankAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("upserting bank account %s: %w", account.ExternalID, err)
		}
	}
	result.BankAccounts = len(accounts)

	if err := s.reconcileFinancial(ctx, userID, result); err != nil {
		return nil, err
	}

	if err := s.store.SetLastSync(ctx, userID, "SUCCESS", time.Now().UTC()); err != nil {
		s.logger.Warn("recording sync status failed", "user_id", userID, "error", err)
	}

	s.logger.Info("sync cycle completed",
		"user_id", userID,
		"bank_accounts", result.BankAccounts,
		"financial_transactions", result.FinancialTransactions,
		"wallet_value", result.WalletValue,
	)

	return result, nil
}

// reconcileFinancial paginates the remote feed into the local cache, then
// recomputes the remote-authoritative wallet value as credits minus debits.
func (s *Service) reconcileFinancial(ctx context.Context, userID string, result *Result) error {
	page := 1
	for {
		feed, err := s.remote.ListFinancialTransactions(ctx, userID, page, s.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("fetching financial transactions page %d: %w", page, err)
		}

		now := time.Now().UTC()
		for _, txn := range feed.Items {
			txn.ID = ulid.Make().String()
			txn.CreatedAt = now
			txn.UpdatedAt = now
			if err := s.store.UpsertFinancialTransaction(ctx, txn); err != nil {
				return fmt.Errorf("upserting financial transaction %s: %w", txn.RemoteID, err)
			}
		}
		result.FinancialTransactions += len(feed.Items)

		if page*s.cfg.PageSize >= feed.Total || len(feed.Items) == 0 {
			break
		}
		page++
	}

	credits, debits, err := s.store.SumFinancialEntries(ctx, userID)
	if err != nil {
		return fmt.Errorf("summing financial entries: %w", err)
	}
	result.WalletValue = money.Round(credits - debits)

	// The ledger's own balance and the remote-derived value are kept as two
	// independent computations; a gap is raised, not reconciled away.
	st, err := s.store.GetWalletState(ctx, userID)
	if err == nil {
		// Profit approximation carried over from the source system.
		profit := money.Round(st.Balance - credits + debits)
		if profit < 0 {
			profit = 0
		}
		result.ProfitEstimate = profit

		if !money.Equal(st.Balance, result.WalletValue) {
			s.logger.Warn("remote wallet value diverges from ledger balance",
				"user_id", userID,
				"ledger_balance", st.Balance,
				"remote_value", result.WalletValue,
			)
			s.publish(ctx, events.EventIntegrityMismatch, userID, events.IntegrityMismatchData{
				ExpectedBalance: result.WalletValue,
				StoredBalance:   st.Balance,
			})
		}
	}

	return nil
}

func (s *Service) publish(ctx context.Context, eventType, userID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, userID, "sync_cycle", userID, data)
	if err != nil {
		s.logger.Warn("building sync event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing sync event failed", "type", eventType, "error", err)
	}
}
