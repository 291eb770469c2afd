package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"investcore/internal/common/database"
	"investcore/internal/domain"
)

// CreateTransaction appends a wallet transaction to the ledger. The ledger
// is append-only; rows are never deleted.
func (s *Store) CreateTransaction(ctx context.Context, txn *domain.WalletTransaction) error {
	query := `
		INSERT INTO wallet_transactions (
			id, user_id, type, amount, balance_before, balance_after,
			status, source, description, entry_type, party, payment_mode,
			voucher_number, chart_of_account, fee_amount, net_amount,
			gateway_ref, verified_by, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := s.db.Exec(ctx, query,
		txn.ID, txn.UserID, txn.Type, txn.Amount, txn.BalanceBefore,
		txn.BalanceAfter, txn.Status, txn.Source, txn.Description,
		txn.EntryType, txn.Party, txn.PaymentMode, txn.VoucherNumber,
		txn.ChartOfAccount, txn.FeeAmount, txn.NetAmount, txn.GatewayRef,
		txn.VerifiedBy, txn.CreatedAt, txn.CompletedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", txn.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting wallet transaction: %w", err)
	}

	return nil
}

// GetTransaction retrieves a single transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	query := selectTransaction + ` WHERE id = $1`
	return scanTransaction(s.db.QueryRow(ctx, query, id))
}

// ListTransactionsByUser retrieves a user's transactions, newest first.
func (s *Store) ListTransactionsByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	query := selectTransaction + ` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return s.listTransactions(ctx, query, userID, limit, offset)
}

// ListCompletedTransactions retrieves a user's COMPLETED transactions in
// chronological order, as needed for integrity replay.
func (s *Store) ListCompletedTransactions(ctx context.Context, userID string) ([]*domain.WalletTransaction, error) {
	query := selectTransaction + ` WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC`
	return s.listTransactions(ctx, query, userID, domain.StatusCompleted)
}

// FinalizeTransaction persists a terminal status for a pending transaction.
// The WHERE clause restricts the update to PENDING rows: completed entries
// are immutable at the storage layer, not just by convention.
func (s *Store) FinalizeTransaction(ctx context.Context, txn *domain.WalletTransaction) error {
	query := `
		UPDATE wallet_transactions
		SET status = $2, balance_before = $3, balance_after = $4,
			gateway_ref = $5, completed_at = $6
		WHERE id = $1 AND status = 'PENDING'
	`

	result, err := s.db.Exec(ctx, query,
		txn.ID, txn.Status, txn.BalanceBefore, txn.BalanceAfter,
		txn.GatewayRef, txn.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("finalizing transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pending transaction %s: %w", txn.ID, database.ErrNotFound)
	}

	return nil
}

// CountTransactionsByUser returns the number of ledger entries for a user.
func (s *Store) CountTransactionsByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return count, nil
}

func (s *Store) listTransactions(ctx context.Context, query string, args ...interface{}) ([]*domain.WalletTransaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing wallet transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.WalletTransaction
	for rows.Next() {
		txn, err := scanTransactionRows(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}

const selectTransaction = `
	SELECT id, user_id, type, amount, balance_before, balance_after,
		   status, source, description, entry_type, party, payment_mode,
		   voucher_number, chart_of_account, fee_amount, net_amount,
		   gateway_ref, verified_by, created_at, completed_at
	FROM wallet_transactions`

func scanTransaction(row pgx.Row) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore,
		&t.BalanceAfter, &t.Status, &t.Source, &t.Description,
		&t.EntryType, &t.Party, &t.PaymentMode, &t.VoucherNumber,
		&t.ChartOfAccount, &t.FeeAmount, &t.NetAmount, &t.GatewayRef,
		&t.VerifiedBy, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("wallet transaction: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning wallet transaction: %w", err)
	}
	return &t, nil
}

func scanTransactionRows(rows pgx.Rows) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	err := rows.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore,
		&t.BalanceAfter, &t.Status, &t.Source, &t.Description,
		&t.EntryType, &t.Party, &t.PaymentMode, &t.VoucherNumber,
		&t.ChartOfAccount, &t.FeeAmount, &t.NetAmount, &t.GatewayRef,
		&t.VerifiedBy, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning wallet transaction row: %w", err)
	}
	return &t, nil
}
