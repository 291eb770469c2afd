package wallet

import "errors"

var (
	// ErrInsufficientBalance rejects a debit larger than the available
	// balance. Business-rule rejection, surfaced to the caller.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidType rejects an unknown transaction type.
	ErrInvalidType = errors.New("invalid transaction type")

	// ErrInvalidAmount rejects a non-positive amount for a type that
	// requires a positive magnitude.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrStorageUnavailable is returned when the wallet has no backing
	// store. Callers should degrade to read-nothing behavior, not crash.
	ErrStorageUnavailable = errors.New("wallet storage unavailable")
)
