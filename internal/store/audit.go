package store

import (
	"context"
	"fmt"

	"investcore/internal/domain"
)

// AppendAuditLog writes an audit entry. Entries are write-once; there is no
// update or delete path.
func (s *Store) AppendAuditLog(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO audit_logs (id, user_id, action, old_value, new_value, actor, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.Action, entry.OldValue,
		entry.NewValue, entry.Actor, entry.SessionID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit log: %w", err)
	}

	return nil
}

// ListAuditLogsByUser retrieves a user's audit trail, newest first.
func (s *Store) ListAuditLogsByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLogEntry, error) {
	query := `
		SELECT id, user_id, action, old_value, new_value, actor, session_id, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Action, &e.OldValue, &e.NewValue,
			&e.Actor, &e.SessionID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}
