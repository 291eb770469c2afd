package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	UserID        string          `json:"user_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, userID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		UserID:        userID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Common event types
const (
	// Wallet ledger events
	EventTransactionRecorded = "wallet.transaction.recorded"
	EventTransactionSettled  = "wallet.transaction.settled"
	EventIntegrityMismatch   = "wallet.integrity.mismatch"
	EventSnapshotCreated     = "wallet.snapshot.created"
	EventBankAccountActive   = "wallet.bank_account.activated"

	// Sync events
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"

	// Reservation events
	EventReservationCreated   = "reservation.created"
	EventReservationCompleted = "reservation.completed"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
)

// TransactionRecordedData is the payload for transaction events.
type TransactionRecordedData struct {
	TransactionID string  `json:"transaction_id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	BalanceAfter  float64 `json:"balance_after"`
	Status        string  `json:"status"`
	Source        string  `json:"source"`
}

// IntegrityMismatchData is the payload for integrity alerts.
type IntegrityMismatchData struct {
	ExpectedBalance  float64 `json:"expected_balance"`
	StoredBalance    float64 `json:"stored_balance"`
	ExpectedInvested float64 `json:"expected_invested"`
	StoredInvested   float64 `json:"stored_invested"`
}

// SyncResultData is the payload for sync outcome events.
type SyncResultData struct {
	BankAccounts          int     `json:"bank_accounts"`
	FinancialTransactions int     `json:"financial_transactions"`
	WalletValue           float64 `json:"wallet_value"`
	Retries               int     `json:"retries"`
	Error                 string  `json:"error,omitempty"`
}

// ReservationData is the payload for reservation lifecycle events.
type ReservationData struct {
	ReservationID string  `json:"reservation_id"`
	TripID        string  `json:"trip_id"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}
