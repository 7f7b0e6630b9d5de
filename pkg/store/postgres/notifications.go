package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/pharmanotify/pharmanotify/pkg/store"
)

// Insert persists an unread notification.
func (s *Store) Insert(ctx context.Context, pharmacyID int64, category, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (pharmacy_id, category, message) VALUES ($1, $2, $3)`,
		pharmacyID, category, message,
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListAndMarkRead returns up to 50 newest notifications and marks every
// unread row of the pharmacy read. Viewing the history is what "reading"
// means here, so the two steps are one logical operation.
func (s *Store) ListAndMarkRead(ctx context.Context, pharmacyID int64, unreadOnly bool) ([]store.Notification, error) {
	qb := psq.Select("id", "pharmacy_id", "category", "message", "is_read", "created_at").
		From("notifications").
		Where(sq.Eq{"pharmacy_id": pharmacyID}).
		OrderBy("created_at DESC").
		Limit(50)
	if unreadOnly {
		qb = qb.Where(sq.Eq{"is_read": false})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building notification query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []store.Notification
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.ID, &n.PharmacyID, &n.Category, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE pharmacy_id = $1 AND NOT is_read`,
		pharmacyID,
	); err != nil {
		return nil, fmt.Errorf("marking notifications read: %w", err)
	}
	return notifications, nil
}

// HasRecent reports whether an expiring_soon alert mentioning the code was
// created inside the window. The code is matched inside the message text
// because notifications do not store it as a separate column.
func (s *Store) HasRecent(ctx context.Context, pharmacyID int64, code string, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window)
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM notifications
		    WHERE pharmacy_id = $1
		      AND category = $2
		      AND message LIKE '%' || $3 || '%'
		      AND created_at >= $4)`,
		pharmacyID, categoryExpiringSoon, code, cutoff,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking recent notification: %w", err)
	}
	return exists, nil
}

// categoryExpiringSoon mirrors tasks.CategoryExpiringSoon without importing
// the tasks package from the storage layer.
const categoryExpiringSoon = "expiring_soon"

// Purge deletes read notifications older than the retention window and
// returns how many rows went away.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE is_read AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading purge result: %w", err)
	}
	return deleted, nil
}
