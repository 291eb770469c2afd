// Package domain contains the core record types for the wallet ledger and
// sync subsystem.
package domain

import "time"

// TransactionType classifies a wallet ledger entry.
type TransactionType string

const (
	TypeAddFunds   TransactionType = "ADD_FUNDS"
	TypeWithdraw   TransactionType = "WITHDRAW"
	TypeInvestment TransactionType = "INVESTMENT"
	TypeProfit     TransactionType = "PROFIT"
	TypeRefund     TransactionType = "REFUND"
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeAddFunds, TypeWithdraw, TypeInvestment, TypeProfit, TypeRefund, TypeAdjustment:
		return true
	}
	return false
}

// IsDebit reports whether the type reduces the wallet balance.
func (t TransactionType) IsDebit() bool {
	return t == TypeWithdraw || t == TypeInvestment
}

// TransactionStatus is the lifecycle status of a wallet transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// TransactionSource identifies where a wallet transaction originated.
type TransactionSource string

const (
	SourceCashfree     TransactionSource = "CASHFREE"
	SourceRazorpay     TransactionSource = "RAZORPAY"
	SourceManual       TransactionSource = "MANUAL"
	SourceSystem       TransactionSource = "SYSTEM"
	SourceBankTransfer TransactionSource = "BANK_TRANSFER"
)

// EntryType is the accounting direction of an entry.
type EntryType string

const (
	EntryDebit  EntryType = "Debit"
	EntryCredit EntryType = "Credit"
)

// BankAccount mirrors a remote bank account record. Accounts are created on
// first sync and updated in place on subsequent syncs, matched by ExternalID.
type BankAccount struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ExternalID    string    `json:"external_id"`
	HolderName    string    `json:"holder_name"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	IFSCCode      string    `json:"ifsc_code"`
	AccountType   string    `json:"account_type"`
	IsVerified    bool      `json:"is_verified"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletTransaction is an immutable ledger entry. Once a transaction reaches
// COMPLETED its amount, type and balance fields are never mutated; only
// PENDING entries may transition status.
type WalletTransaction struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Type          TransactionType   `json:"type"`
	Amount        float64           `json:"amount"`
	BalanceBefore float64           `json:"balance_before"`
	BalanceAfter  float64           `json:"balance_after"`
	Status        TransactionStatus `json:"status"`
	Source        TransactionSource `json:"source"`
	Description   string            `json:"description"`

	// Accounting fields
	EntryType      EntryType `json:"entry_type"`
	Party          string    `json:"party,omitempty"`
	PaymentMode    string    `json:"payment_mode,omitempty"`
	VoucherNumber  string    `json:"voucher_number"`
	ChartOfAccount string    `json:"chart_of_account,omitempty"`
	FeeAmount      float64   `json:"fee_amount"`
	NetAmount      float64   `json:"net_amount"`

	// Verification metadata from the payment gateway
	GatewayRef string `json:"gateway_ref,omitempty"`
	VerifiedBy string `json:"verified_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WalletState is the single authoritative row of derived wallet totals per
// user. It is mutated only through the wallet service's update path.
type WalletState struct {
	UserID           string  `json:"user_id"`
	Balance          float64 `json:"balance"`
	TotalInvested    float64 `json:"total_invested"`
	TotalWithdrawn   float64 `json:"total_withdrawn"`
	ProfitEarned     float64 `json:"profit_earned"`
	TotalFees        float64 `json:"total_fees"`
	TotalRefunds     float64 `json:"total_refunds"`
	TotalAdjustments float64 `json:"total_adjustments"`
	PendingBalance   float64 `json:"pending_balance"`
	AvailableBalance float64 `json:"available_balance"`

	Version           int64      `json:"version"`
	LastTransactionID string     `json:"last_transaction_id,omitempty"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus    string     `json:"last_sync_status,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ActorClass identifies who performed an audited action.
type ActorClass string

const (
	ActorUser           ActorClass = "USER"
	ActorSystem         ActorClass = "SYSTEM"
	ActorAPI            ActorClass = "API"
	ActorPaymentGateway ActorClass = "PAYMENT_GATEWAY"
)

// AuditLogEntry is a write-once record of a state-affecting action.
type AuditLogEntry struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Action    string     `json:"action"`
	OldValue  []byte     `json:"old_value,omitempty"`
	NewValue  []byte     `json:"new_value,omitempty"`
	Actor     ActorClass `json:"actor"`
	SessionID string     `json:"session_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SnapshotType tags a balance snapshot with its capture cadence.
type SnapshotType string

const (
	SnapshotHourly  SnapshotType = "HOURLY"
	SnapshotDaily   SnapshotType = "DAILY"
	SnapshotMonthly SnapshotType = "MONTHLY"
	SnapshotManual  SnapshotType = "MANUAL"
)

// BalanceSnapshot is a point-in-time copy of wallet totals, kept for backup
// and rollback reference only.
type BalanceSnapshot struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Type             SnapshotType `json:"type"`
	Balance          float64      `json:"balance"`
	TotalInvested    float64      `json:"total_invested"`
	TotalWithdrawn   float64      `json:"total_withdrawn"`
	ProfitEarned     float64      `json:"profit_earned"`
	TransactionCount int64        `json:"transaction_count"`
	CreatedAt        time.Time    `json:"created_at"`
}

// FinancialTransaction is the locally cached mirror of a remote,
// authoritative financial transaction, keyed by RemoteID and upserted on
// each sync cycle.
type FinancialTransaction struct {
	ID             string    `json:"id"`
	RemoteID       string    `json:"remote_id"`
	UserID         string    `json:"user_id"`
	EntryType      EntryType `json:"entry_type"`
	Amount         float64   `json:"amount"`
	Party          string    `json:"party,omitempty"`
	ChartOfAccount string    `json:"chart_of_account,omitempty"`
	RemoteVersion  string    `json:"remote_version,omitempty"`
	TransactedAt   time.Time `json:"transacted_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
