package store

import (
	"context"
	"fmt"

	"investcore/internal/domain"
)

// CreateSnapshot stores a point-in-time balance snapshot.
func (s *Store) CreateSnapshot(ctx context.Context, snap *domain.BalanceSnapshot) error {
	query := `
		INSERT INTO balance_snapshots (
			id, user_id, snapshot_type, balance, total_invested,
			total_withdrawn, profit_earned, transaction_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.Exec(ctx, query,
		snap.ID, snap.UserID, snap.Type, snap.Balance, snap.TotalInvested,
		snap.TotalWithdrawn, snap.ProfitEarned, snap.TransactionCount,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating balance snapshot: %w", err)
	}

	return nil
}

// ListSnapshotsByUser retrieves a user's snapshots, newest first.
func (s *Store) ListSnapshotsByUser(ctx context.Context, userID string, limit int) ([]*domain.BalanceSnapshot, error) {
	query := `
		SELECT id, user_id, snapshot_type, balance, total_invested,
			   total_withdrawn, profit_earned, transaction_count, created_at
		FROM balance_snapshots
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing balance snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.BalanceSnapshot
	for rows.Next() {
		var sn domain.BalanceSnapshot
		if err := rows.Scan(
			&sn.ID, &sn.UserID, &sn.Type, &sn.Balance, &sn.TotalInvested,
			&sn.TotalWithdrawn, &sn.ProfitEarned, &sn.TransactionCount,
			&sn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning balance snapshot: %w", err)
		}
		snaps = append(snaps, &sn)
	}

	return snaps, rows.Err()
}
