package store

import (
	"context"
	"fmt"
	"time"

	"investcore/internal/common/database"
	"investcore/internal/domain"
)

// GetWalletState retrieves the derived wallet state row for a user.
func (s *Store) GetWalletState(ctx context.Context, userID string) (*domain.WalletState, error) {
	query := `
		SELECT user_id, balance, total_invested, total_withdrawn, profit_earned,
			   total_fees, total_refunds, total_adjustments, pending_balance,
			   available_balance, version, last_transaction_id, last_sync_at,
			   last_sync_status, updated_at
		FROM wallet_states
		WHERE user_id = $1
	`

	var st domain.WalletState
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&st.UserID, &st.Balance, &st.TotalInvested, &st.TotalWithdrawn,
		&st.ProfitEarned, &st.TotalFees, &st.TotalRefunds,
		&st.TotalAdjustments, &st.PendingBalance, &st.AvailableBalance,
		&st.Version, &st.LastTransactionID, &st.LastSyncAt,
		&st.LastSyncStatus, &st.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("wallet state for %s: %w", userID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning wallet state: %w", err)
	}

	return &st, nil
}

// SaveWalletState writes the wallet state row. Only the wallet service's
// single update path calls this; everything else reads.
func (s *Store) SaveWalletState(ctx context.Context, st *domain.WalletState) error {
	query := `
		INSERT INTO wallet_states (
			user_id, balance, total_invested, total_withdrawn, profit_earned,
			total_fees, total_refunds, total_adjustments, pending_balance,
			available_balance, version, last_transaction_id, last_sync_at,
			last_sync_status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			balance             = EXCLUDED.balance,
			total_invested      = EXCLUDED.total_invested,
			total_withdrawn     = EXCLUDED.total_withdrawn,
			profit_earned       = EXCLUDED.profit_earned,
			total_fees          = EXCLUDED.total_fees,
			total_refunds       = EXCLUDED.total_refunds,
			total_adjustments   = EXCLUDED.total_adjustments,
			pending_balance     = EXCLUDED.pending_balance,
			available_balance   = EXCLUDED.available_balance,
			version             = EXCLUDED.version,
			last_transaction_id = EXCLUDED.last_transaction_id,
			last_sync_at        = EXCLUDED.last_sync_at,
			last_sync_status    = EXCLUDED.last_sync_status,
			updated_at          = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		st.UserID, st.Balance, st.TotalInvested, st.TotalWithdrawn,
		st.ProfitEarned, st.TotalFees, st.TotalRefunds, st.TotalAdjustments,
		st.PendingBalance, st.AvailableBalance, st.Version,
		st.LastTransactionID, st.LastSyncAt, st.LastSyncStatus, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving wallet state: %w", err)
	}

	return nil
}

// SetLastSync stamps the sync outcome on the wallet state row without
// touching any balance fields.
func (s *Store) SetLastSync(ctx context.Context, userID, status string, at time.Time) error {
	query := `
		UPDATE wallet_states
		SET last_sync_at = $2, last_sync_status = $3, updated_at = $2
		WHERE user_id = $1
	`

	if _, err := s.db.Exec(ctx, query, userID, at, status); err != nil {
		return fmt.Errorf("recording sync status: %w", err)
	}
	return nil
}
