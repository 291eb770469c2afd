// Package wallet is the single authoritative entry point for mutating
// wallet state. Every balance change flows through RecordTransaction, which
// appends a ledger entry, updates the derived state row and writes an audit
// record, in that order. A failure between the ledger write and the state
// update is not rolled back; VerifyIntegrity detects and reports the drift.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"investcore/internal/common/events"
	"investcore/internal/common/money"
	"investcore/internal/domain"
)

// Store persists ledger entries, wallet state, audit logs and snapshots.
type Store interface {
	CreateTransaction(ctx context.Context, txn *domain.WalletTransaction) error
	GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error)
	ListTransactionsByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error)
	ListCompletedTransactions(ctx context.Context, userID string) ([]*domain.WalletTransaction, error)
	FinalizeTransaction(ctx context.Context, txn *domain.WalletTransaction) error
	CountTransactionsByUser(ctx context.Context, userID string) (int64, error)

	GetWalletState(ctx context.Context, userID string) (*domain.WalletState, error)
	SaveWalletState(ctx context.Context, st *domain.WalletState) error

	AppendAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error
	ListAuditLogsByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLogEntry, error)

	CreateSnapshot(ctx context.Context, snap *domain.BalanceSnapshot) error
	ListSnapshotsByUser(ctx context.Context, userID string, limit int) ([]*domain.BalanceSnapshot, error)
}

// NotFoundChecker lets the service distinguish "no state row yet" from a
// real storage failure without importing the storage layer.
type NotFoundChecker func(error) bool

// Service provides wallet ledger operations.
type Service struct {
	store      Store
	publisher  events.EventPublisher
	logger     *slog.Logger
	isNotFound NotFoundChecker
}

// NewService creates a wallet service. A nil store puts the service in
// degraded mode: every operation returns ErrStorageUnavailable.
func NewService(store Store, publisher events.EventPublisher, isNotFound NotFoundChecker, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		isNotFound: isNotFound,
	}
}

// RecordTransactionRequest is the request to record a wallet transaction.
// Amount is a positive magnitude for every type except ADJUSTMENT, where it
// is a signed delta.
type RecordTransactionRequest struct {
	UserID      string                   `json:"user_id" validate:"required"`
	Type        domain.TransactionType   `json:"type" validate:"required"`
	Amount      float64                  `json:"amount" validate:"required"`
	Description string                   `json:"description" validate:"max=500"`
	Source      domain.TransactionSource `json:"source" validate:"required"`
	Status      domain.TransactionStatus `json:"status"`

	// Optional accounting fields
	Party          string  `json:"party"`
	PaymentMode    string  `json:"payment_mode"`
	ChartOfAccount string  `json:"chart_of_account"`
	FeeAmount      float64 `json:"fee_amount" validate:"gte=0"`

	// Gateway metadata for async flows
	GatewayRef string `json:"gateway_ref"`
	SessionID  string `json:"session_id"`
}

// RecordTransaction validates and records a wallet transaction. Synchronous
// flows pass status COMPLETED (the default); payment-gateway flows may pass
// PENDING, in which case debit amounts are reserved against the available
// balance and the balance effect applies at settlement.
func (s *Service) RecordTransaction(ctx context.Context, req RecordTransactionRequest) (*domain.WalletTransaction, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidType, req.Type)
	}
	if req.Type != domain.TypeAdjustment && req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Status == "" {
		req.Status = domain.StatusCompleted
	}

	st, err := s.stateOrZero(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	before := *st

	if req.Type.IsDebit() && money.Exceeds(req.Amount, st.AvailableBalance) {
		return nil, fmt.Errorf("%s of %.2f against available %.2f: %w",
			req.Type, req.Amount, st.AvailableBalance, ErrInsufficientBalance)
	}

	id := ulid.Make().String()
	now := time.Now().UTC()

	entryType := domain.EntryCredit
	if req.Type.IsDebit() {
		entryType = domain.EntryDebit
	}

	txn := &domain.WalletTransaction{
		ID:             id,
		UserID:         req.UserID,
		Type:           req.Type,
		Amount:         money.Round(req.Amount),
		BalanceBefore:  st.Balance,
		Status:         req.Status,
		Source:         req.Source,
		Description:    req.Description,
		EntryType:      entryType,
		Party:          req.Party,
		PaymentMode:    req.PaymentMode,
		VoucherNumber:  voucherNumber(now, id),
		ChartOfAccount: req.ChartOfAccount,
		FeeAmount:      money.Round(req.FeeAmount),
		NetAmount:      money.Round(req.Amount - req.FeeAmount),
		GatewayRef:     req.GatewayRef,
		CreatedAt:      now,
	}

	switch req.Status {
	case domain.StatusCompleted:
		txn.BalanceAfter = money.Round(st.Balance + balanceDelta(req.Type, txn.Amount))
		txn.CompletedAt = &now
		applyEffects(st, txn)
	case domain.StatusPending:
		// Balance untouched until settlement. Debits reserve their amount
		// so a second spend cannot commit the same funds.
		txn.BalanceAfter = st.Balance
		if req.Type.IsDebit() {
			st.PendingBalance = money.Round(st.PendingBalance + txn.Amount)
		}
	default:
		return nil, fmt.Errorf("recording with status %s is not supported", req.Status)
	}

	st.AvailableBalance = money.Round(st.Balance - st.PendingBalance)
	st.Version++
	st.LastTransactionID = txn.ID
	st.UpdatedAt = now

	if err := s.store.CreateTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("writing transaction: %w", err)
	}
	if err := s.store.SaveWalletState(ctx, st); err != nil {
		// The ledger entry is already durable; integrity verification will
		// flag the gap. Surface the error so the caller knows.
		return nil, fmt.Errorf("updating wallet state after transaction %s: %w", txn.ID, err)
	}

	s.audit(ctx, req.UserID, "TRANSACTION_"+string(req.Type), &before, st, domain.ActorUser, req.SessionID)
	s.publish(ctx, events.EventTransactionRecorded, req.UserID, "wallet_transaction", txn.ID, events.TransactionRecordedData{
		TransactionID: txn.ID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		BalanceAfter:  txn.BalanceAfter,
		Status:        string(txn.Status),
		Source:        string(txn.Source),
	})

	s.logger.Info("transaction recorded",
		"transaction_id", txn.ID,
		"user_id", req.UserID,
		"type", txn.Type,
		"amount", txn.Amount,
		"status", txn.Status,
		"balance_after", txn.BalanceAfter,
	)

	return txn, nil
}

// CompleteTransaction settles a pending transaction, applying its balance
// effect exactly once. Used when an async payment gateway confirms.
func (s *Service) CompleteTransaction(ctx context.Context, userID, txnID, gatewayRef string) (*domain.WalletTransaction, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s does not belong to user %s", txnID, userID)
	}

	st, err := s.stateOrZero(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := *st

	if txn.Type.IsDebit() {
		st.PendingBalance = money.Round(st.PendingBalance - txn.Amount)
		if st.PendingBalance < 0 {
			st.PendingBalance = 0
		}
	}

	balanceAfter := money.Round(st.Balance + balanceDelta(txn.Type, txn.Amount))
	if err := txn.MarkCompleted(st.Balance, balanceAfter, gatewayRef); err != nil {
		return nil, err
	}
	applyEffects(st, txn)

	st.AvailableBalance = money.Round(st.Balance - st.PendingBalance)
	st.Version++
	st.LastTransactionID = txn.ID
	st.UpdatedAt = time.Now().UTC()

	if err := s.store.FinalizeTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := s.store.SaveWalletState(ctx, st); err != nil {
		return nil, fmt.Errorf("updating wallet state after settlement %s: %w", txn.ID, err)
	}

	s.audit(ctx, userID, "TRANSACTION_SETTLED", &before, st, domain.ActorPaymentGateway, "")
	s.publish(ctx, events.EventTransactionSettled, userID, "wallet_transaction", txn.ID, events.TransactionRecordedData{
		TransactionID: txn.ID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		BalanceAfter:  txn.BalanceAfter,
		Status:        string(txn.Status),
		Source:        string(txn.Source),
	})

	s.logger.Info("transaction settled",
		"transaction_id", txn.ID,
		"user_id", userID,
		"balance_after", txn.BalanceAfter,
	)

	return txn, nil
}

// AbortTransaction marks a pending transaction FAILED or CANCELLED and
// releases any debit reservation. No balance effect is applied.
func (s *Service) AbortTransaction(ctx context.Context, userID, txnID string, status domain.TransactionStatus) (*domain.WalletTransaction, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s does not belong to user %s", txnID, userID)
	}

	switch status {
	case domain.StatusFailed:
		err = txn.MarkFailed()
	case domain.StatusCancelled:
		err = txn.MarkCancelled()
	default:
		return nil, fmt.Errorf("abort status must be FAILED or CANCELLED, got %s", status)
	}
	if err != nil {
		return nil, err
	}

	st, err := s.stateOrZero(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := *st

	if txn.Type.IsDebit() {
		st.PendingBalance = money.Round(st.PendingBalance - txn.Amount)
		if st.PendingBalance < 0 {
			st.PendingBalance = 0
		}
		st.AvailableBalance = money.Round(st.Balance - st.PendingBalance)
		st.Version++
		st.UpdatedAt = time.Now().UTC()
	}

	if err := s.store.FinalizeTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if txn.Type.IsDebit() {
		if err := s.store.SaveWalletState(ctx, st); err != nil {
			return nil, fmt.Errorf("releasing reservation for %s: %w", txn.ID, err)
		}
		s.audit(ctx, userID, "TRANSACTION_"+string(status), &before, st, domain.ActorSystem, "")
	}

	s.logger.Info("transaction aborted",
		"transaction_id", txn.ID,
		"user_id", userID,
		"status", status,
	)

	return txn, nil
}

// IntegrityReport is the outcome of replaying the ledger against stored
// state.
type IntegrityReport struct {
	Consistent        bool    `json:"consistent"`
	ExpectedBalance   float64 `json:"expected_balance"`
	StoredBalance     float64 `json:"stored_balance"`
	ExpectedInvested  float64 `json:"expected_invested"`
	StoredInvested    float64 `json:"stored_invested"`
	ExpectedWithdrawn float64 `json:"expected_withdrawn"`
	ExpectedProfit    float64 `json:"expected_profit"`
	TransactionCount  int     `json:"transaction_count"`
}

// VerifyIntegrity replays every COMPLETED transaction for the user in
// chronological order and compares the recomputed balance and total
// invested against the stored state, within the money epsilon. A mismatch
// is audited and published but never auto-corrected.
func (s *Service) VerifyIntegrity(ctx context.Context, userID string) (*IntegrityReport, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	txns, err := s.store.ListCompletedTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading ledger for replay: %w", err)
	}

	var balance, invested, withdrawn, profit float64
	for _, t := range txns {
		switch t.Type {
		case domain.TypeAddFunds, domain.TypeRefund:
			balance += t.Amount
		case domain.TypeProfit:
			balance += t.Amount
			profit += t.Amount
		case domain.TypeWithdraw:
			balance -= t.Amount
			withdrawn += t.Amount
		case domain.TypeInvestment:
			balance -= t.Amount
			invested += t.Amount
		case domain.TypeAdjustment:
			balance += t.Amount
		}
	}

	st, err := s.stateOrZero(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{
		ExpectedBalance:   money.Round(balance),
		StoredBalance:     st.Balance,
		ExpectedInvested:  money.Round(invested),
		StoredInvested:    st.TotalInvested,
		ExpectedWithdrawn: money.Round(withdrawn),
		ExpectedProfit:    money.Round(profit),
		TransactionCount:  len(txns),
	}
	report.Consistent = money.Equal(report.ExpectedBalance, st.Balance) &&
		money.Equal(report.ExpectedInvested, st.TotalInvested)

	if !report.Consistent {
		s.logger.Error("wallet integrity mismatch",
			"user_id", userID,
			"expected_balance", report.ExpectedBalance,
			"stored_balance", report.StoredBalance,
			"expected_invested", report.ExpectedInvested,
			"stored_invested", report.StoredInvested,
		)

		s.audit(ctx, userID, "INTEGRITY_MISMATCH", st, report, domain.ActorSystem, "")
		s.publish(ctx, events.EventIntegrityMismatch, userID, "wallet_state", userID, events.IntegrityMismatchData{
			ExpectedBalance:  report.ExpectedBalance,
			StoredBalance:    report.StoredBalance,
			ExpectedInvested: report.ExpectedInvested,
			StoredInvested:   report.StoredInvested,
		})
	}

	return report, nil
}

// CreateSnapshot captures current wallet totals as a point-in-time backup.
// Read-only with respect to the ledger write path.
func (s *Service) CreateSnapshot(ctx context.Context, userID string, snapType domain.SnapshotType) (*domain.BalanceSnapshot, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	st, err := s.stateOrZero(ctx, userID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &domain.BalanceSnapshot{
		ID:               ulid.Make().String(),
		UserID:           userID,
		Type:             snapType,
		Balance:          st.Balance,
		TotalInvested:    st.TotalInvested,
		TotalWithdrawn:   st.TotalWithdrawn,
		ProfitEarned:     st.ProfitEarned,
		TransactionCount: count,
		CreatedAt:        time.Now().UTC(),
	}

	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventSnapshotCreated, userID, "balance_snapshot", snap.ID, snap)
	s.logger.Info("snapshot created", "snapshot_id", snap.ID, "user_id", userID, "type", snapType)

	return snap, nil
}

// GetState returns the wallet state for a user. A user with no recorded
// activity gets a zeroed state rather than a not-found error.
func (s *Service) GetState(ctx context.Context, userID string) (*domain.WalletState, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	return s.stateOrZero(ctx, userID)
}

// ListTransactions returns a user's ledger entries, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.ListTransactionsByUser(ctx, userID, limit, offset)
}

// GetTransaction returns a single ledger entry.
func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	return s.store.GetTransaction(ctx, id)
}

// ListAuditLogs returns a user's audit trail, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, userID string, limit int) ([]*domain.AuditLogEntry, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAuditLogsByUser(ctx, userID, limit)
}

// ListSnapshots returns a user's balance snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context, userID string, limit int) ([]*domain.BalanceSnapshot, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListSnapshotsByUser(ctx, userID, limit)
}

func (s *Service) stateOrZero(ctx context.Context, userID string) (*domain.WalletState, error) {
	st, err := s.store.GetWalletState(ctx, userID)
	if err != nil {
		if s.isNotFound != nil && s.isNotFound(err) {
			return &domain.WalletState{UserID: userID, UpdatedAt: time.Now().UTC()}, nil
		}
		return nil, err
	}
	return st, nil
}

// applyEffects folds a COMPLETED transaction into the cumulative counters.
func applyEffects(st *domain.WalletState, txn *domain.WalletTransaction) {
	switch txn.Type {
	case domain.TypeAddFunds:
		st.Balance = money.Round(st.Balance + txn.Amount)
	case domain.TypeProfit:
		st.Balance = money.Round(st.Balance + txn.Amount)
		st.ProfitEarned = money.Round(st.ProfitEarned + txn.Amount)
	case domain.TypeRefund:
		st.Balance = money.Round(st.Balance + txn.Amount)
		st.TotalRefunds = money.Round(st.TotalRefunds + txn.Amount)
	case domain.TypeWithdraw:
		st.Balance = money.Round(st.Balance - txn.Amount)
		st.TotalWithdrawn = money.Round(st.TotalWithdrawn + txn.Amount)
	case domain.TypeInvestment:
		st.Balance = money.Round(st.Balance - txn.Amount)
		st.TotalInvested = money.Round(st.TotalInvested + txn.Amount)
	case domain.TypeAdjustment:
		st.Balance = money.Round(st.Balance + txn.Amount)
		st.TotalAdjustments = money.Round(st.TotalAdjustments + txn.Amount)
	}
	if txn.FeeAmount > 0 {
		st.TotalFees = money.Round(st.TotalFees + txn.FeeAmount)
	}
}

// balanceDelta returns the signed balance effect of a transaction type.
// amount is a positive magnitude except for ADJUSTMENT, which carries its
// own sign.
func balanceDelta(t domain.TransactionType, amount float64) float64 {
	if t.IsDebit() {
		return -amount
	}
	return amount
}

func voucherNumber(at time.Time, id string) string {
	return fmt.Sprintf("VCH-%s-%s", at.Format("20060102"), id[len(id)-8:])
}

func (s *Service) audit(ctx context.Context, userID, action string, oldValue, newValue interface{}, actor domain.ActorClass, sessionID string) {
	oldBytes, _ := json.Marshal(oldValue)
	newBytes, _ := json.Marshal(newValue)

	entry := &domain.AuditLogEntry{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Action:    action,
		OldValue:  oldBytes,
		NewValue:  newBytes,
		Actor:     actor,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}

	// Audit failures never fail the business operation.
	if err := s.store.AppendAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", "action", action, "user_id", userID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType, userID, aggregateType, aggregateID string, data interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(eventType, userID, aggregateType, aggregateID, data)
	if err != nil {
		s.logger.Warn("building event failed", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing event failed", "type", eventType, "error", err)
	}
}
