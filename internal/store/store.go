// Package store is the local persistent store: six durable, indexed record
// collections backed by Postgres. Each collection is queryable by user id
// and, where a remote mirror exists, by remote id; sync ingestion goes
// through upserts keyed on the stable external identifier so at-least-once
// delivery leaves at most one stored copy.
package store

import (
	"context"
	"fmt"

	"investcore/internal/common/database"
)

// Store provides data access for all wallet collections
type Store struct {
	db *database.DB
}

// New creates a new store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// CollectionCounts holds per-collection record counts for monitoring.
type CollectionCounts struct {
	BankAccounts          int64 `json:"bank_accounts"`
	WalletTransactions    int64 `json:"wallet_transactions"`
	WalletStates          int64 `json:"wallet_states"`
	AuditLogs             int64 `json:"audit_logs"`
	BalanceSnapshots      int64 `json:"balance_snapshots"`
	FinancialTransactions int64 `json:"financial_transactions"`
}

// Counts returns record counts across all collections.
func (s *Store) Counts(ctx context.Context) (*CollectionCounts, error) {
	var c CollectionCounts
	tables := []struct {
		name string
		dest *int64
	}{
		{"bank_accounts", &c.BankAccounts},
		{"wallet_transactions", &c.WalletTransactions},
		{"wallet_states", &c.WalletStates},
		{"audit_logs", &c.AuditLogs},
		{"balance_snapshots", &c.BalanceSnapshots},
		{"financial_transactions", &c.FinancialTransactions},
	}

	for _, t := range tables {
		if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(t.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", t.name, err)
		}
	}

	return &c, nil
}
