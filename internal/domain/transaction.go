package domain

import (
	"errors"
	"time"
)

// ErrNotPending is returned when a status transition is attempted on a
// transaction that has already reached a terminal status.
var ErrNotPending = errors.New("transaction is not pending")

// MarkCompleted transitions a pending transaction to COMPLETED and stamps
// the balance it settled against. Completed entries are immutable.
func (t *WalletTransaction) MarkCompleted(balanceBefore, balanceAfter float64, gatewayRef string) error {
	if t.Status != StatusPending {
		return ErrNotPending
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.BalanceBefore = balanceBefore
	t.BalanceAfter = balanceAfter
	if gatewayRef != "" {
		t.GatewayRef = gatewayRef
	}
	t.CompletedAt = &now
	return nil
}

// MarkFailed transitions a pending transaction to FAILED.
func (t *WalletTransaction) MarkFailed() error {
	if t.Status != StatusPending {
		return ErrNotPending
	}
	t.Status = StatusFailed
	return nil
}

// MarkCancelled transitions a pending transaction to CANCELLED.
func (t *WalletTransaction) MarkCancelled() error {
	if t.Status != StatusPending {
		return ErrNotPending
	}
	t.Status = StatusCancelled
	return nil
}
