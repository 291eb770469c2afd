package store

import (
	"context"
	"fmt"

	"investcore/internal/domain"
)

// UpsertFinancialTransaction inserts or refreshes a cached remote financial
// transaction, keyed by remote id. Re-ingesting the same page is a no-op
// apart from refreshed fields.
func (s *Store) UpsertFinancialTransaction(ctx context.Context, txn *domain.FinancialTransaction) error {
	query := `
		INSERT INTO financial_transactions (
			id, remote_id, user_id, entry_type, amount, party,
			chart_of_account, remote_version, transacted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (remote_id) DO UPDATE SET
			entry_type       = EXCLUDED.entry_type,
			amount           = EXCLUDED.amount,
			party            = EXCLUDED.party,
			chart_of_account = EXCLUDED.chart_of_account,
			remote_version   = EXCLUDED.remote_version,
			transacted_at    = EXCLUDED.transacted_at,
			updated_at       = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		txn.ID, txn.RemoteID, txn.UserID, txn.EntryType, txn.Amount,
		txn.Party, txn.ChartOfAccount, txn.RemoteVersion, txn.TransactedAt,
		txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting financial transaction: %w", err)
	}

	return nil
}

// ListFinancialTransactionsByUser retrieves the cached remote feed for a
// user, newest first.
func (s *Store) ListFinancialTransactionsByUser(ctx context.Context, userID string) ([]*domain.FinancialTransaction, error) {
	query := `
		SELECT id, remote_id, user_id, entry_type, amount, party,
			   chart_of_account, remote_version, transacted_at, created_at, updated_at
		FROM financial_transactions
		WHERE user_id = $1
		ORDER BY transacted_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing financial transactions: %w", err)
	}
	defer rows.Close()

	var txns []*domain.FinancialTransaction
	for rows.Next() {
		var t domain.FinancialTransaction
		if err := rows.Scan(
			&t.ID, &t.RemoteID, &t.UserID, &t.EntryType, &t.Amount,
			&t.Party, &t.ChartOfAccount, &t.RemoteVersion, &t.TransactedAt,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning financial transaction: %w", err)
		}
		txns = append(txns, &t)
	}

	return txns, rows.Err()
}

// SumFinancialEntries totals the cached credits and debits for a user. The
// difference is the remote-authoritative wallet value, computed without
// consulting the local ledger.
func (s *Store) SumFinancialEntries(ctx context.Context, userID string) (credits, debits float64, err error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'Credit'), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'Debit'), 0)
		FROM financial_transactions
		WHERE user_id = $1
	`

	if err = s.db.QueryRow(ctx, query, userID).Scan(&credits, &debits); err != nil {
		return 0, 0, fmt.Errorf("summing financial entries: %w", err)
	}

	return credits, debits, nil
}
