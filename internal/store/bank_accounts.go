package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"investcore/internal/common/database"
	"investcore/internal/domain"
)

// UpsertBankAccount inserts a bank account or, when a record with the same
// external id already exists, merges the remote fields into it. The local
// primary key and the locally managed is_active flag are preserved, so a
// re-sync never flips the user's chosen payout account.
func (s *Store) UpsertBankAccount(ctx context.Context, account *domain.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (
			id, user_id, external_id, holder_name, bank_name, account_number,
			ifsc_code, account_type, is_verified, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO UPDATE SET
			holder_name    = EXCLUDED.holder_name,
			bank_name      = EXCLUDED.bank_name,
			account_number = EXCLUDED.account_number,
			ifsc_code      = EXCLUDED.ifsc_code,
			account_type   = EXCLUDED.account_type,
			is_verified    = EXCLUDED.is_verified,
			updated_at     = EXCLUDED.updated_at
	`

	_, err := s.db.Exec(ctx, query,
		account.ID,
		account.UserID,
		account.ExternalID,
		account.HolderName,
		account.BankName,
		account.AccountNumber,
		account.IFSCCode,
		account.AccountType,
		account.IsVerified,
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting bank account: %w", err)
	}

	return nil
}

// GetBankAccountByExternalID retrieves a bank account by its remote id.
func (s *Store) GetBankAccountByExternalID(ctx context.Context, externalID string) (*domain.BankAccount, error) {
	query := selectBankAccount + ` WHERE external_id = $1`
	return scanBankAccount(s.db.QueryRow(ctx, query, externalID))
}

// ListBankAccounts retrieves all bank accounts for a user.
func (s *Store) ListBankAccounts(ctx context.Context, userID string) ([]*domain.BankAccount, error) {
	query := selectBankAccount + ` WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.BankAccount
	for rows.Next() {
		account, err := scanBankAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// SetActiveBankAccount marks one account active and deactivates every other
// account of the same user in a single transaction, so at most one account
// is active per user at any time.
func (s *Store) SetActiveBankAccount(ctx context.Context, userID, accountID string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE bank_accounts SET is_active = FALSE, updated_at = $2 WHERE user_id = $1 AND is_active`,
			userID, now,
		); err != nil {
			return fmt.Errorf("deactivating bank accounts: %w", err)
		}

		result, err := tx.Exec(ctx,
			`UPDATE bank_accounts SET is_active = TRUE, updated_at = $3 WHERE id = $1 AND user_id = $2`,
			accountID, userID, now,
		)
		if err != nil {
			return fmt.Errorf("activating bank account: %w", err)
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("bank account %s: %w", accountID, database.ErrNotFound)
		}

		return nil
	})
}

const selectBankAccount = `
	SELECT id, user_id, external_id, holder_name, bank_name, account_number,
		   ifsc_code, account_type, is_verified, is_active, created_at, updated_at
	FROM bank_accounts`

func scanBankAccount(row pgx.Row) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExternalID, &a.HolderName, &a.BankName,
		&a.AccountNumber, &a.IFSCCode, &a.AccountType, &a.IsVerified,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("bank account: %w", database.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning bank account: %w", err)
	}
	return &a, nil
}

func scanBankAccountRows(rows pgx.Rows) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := rows.Scan(
		&a.ID, &a.UserID, &a.ExternalID, &a.HolderName, &a.BankName,
		&a.AccountNumber, &a.IFSCCode, &a.AccountType, &a.IsVerified,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning bank account row: %w", err)
	}
	return &a, nil
}
