package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pharmanotify/pharmanotify/pkg/store"
)

// pharmacyColumns lists columns returned by pharmacy SELECT queries.
const pharmacyColumns = "id, name, threshold_days, active, created_at"

// CreatePharmacy registers a pharmacy. Names are unique case-insensitively.
func (s *Store) CreatePharmacy(ctx context.Context, name string) (*store.Pharmacy, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pharmacies WHERE LOWER(name) = LOWER($1))`,
		name,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate pharmacy: %w", err)
	}
	if exists {
		return nil, store.ErrDuplicate
	}

	ph := &store.Pharmacy{Name: name, Active: true}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO pharmacies (name) VALUES ($1)
		 RETURNING id, threshold_days, created_at`,
		name,
	).Scan(&ph.ID, &ph.ThresholdDays, &ph.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("inserting pharmacy: %w", err)
	}
	return ph, nil
}

// ListPharmacies returns every pharmacy, active first, then by name. The
// monitor needs the full picture, deactivated pharmacies included.
func (s *Store) ListPharmacies(ctx context.Context) ([]store.Pharmacy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies ORDER BY active DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying pharmacies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pharmacies []store.Pharmacy
	for rows.Next() {
		var ph store.Pharmacy
		if err := rows.Scan(&ph.ID, &ph.Name, &ph.ThresholdDays, &ph.Active, &ph.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pharmacy: %w", err)
		}
		pharmacies = append(pharmacies, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pharmacies: %w", err)
	}
	return pharmacies, nil
}

// FindByName looks up a pharmacy case-insensitively, active or not. The
// handshake distinguishes missing, deactivated, and active itself.
func (s *Store) FindByName(ctx context.Context, name string) (*store.Pharmacy, error) {
	var ph store.Pharmacy
	err := s.db.QueryRowContext(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies WHERE LOWER(name) = LOWER($1)`,
		name,
	).Scan(&ph.ID, &ph.Name, &ph.ThresholdDays, &ph.Active, &ph.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding pharmacy: %w", err)
	}
	return &ph, nil
}

// Rename renames an active pharmacy to a free name.
func (s *Store) Rename(ctx context.Context, currentName, newName string) (*store.Pharmacy, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM pharmacies WHERE LOWER(name) = LOWER($1) AND active`,
		currentName,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding pharmacy to rename: %w", err)
	}

	var taken bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pharmacies WHERE LOWER(name) = LOWER($1))`,
		newName,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("checking new pharmacy name: %w", err)
	}
	if taken {
		return nil, store.ErrDuplicate
	}

	var ph store.Pharmacy
	err = s.db.QueryRowContext(ctx,
		`UPDATE pharmacies SET name = $2 WHERE id = $1 RETURNING `+pharmacyColumns,
		id, newName,
	).Scan(&ph.ID, &ph.Name, &ph.ThresholdDays, &ph.Active, &ph.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("renaming pharmacy: %w", err)
	}
	return &ph, nil
}

// SetActive flips the active flag. The lookup does not filter by state so
// missing and already-in-state get distinct answers.
func (s *Store) SetActive(ctx context.Context, name string, active bool) (*store.Pharmacy, error) {
	ph, err := s.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ph.Active == active {
		return ph, store.ErrUnchanged
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies SET active = $2 WHERE id = $1`, ph.ID, active,
	); err != nil {
		return nil, fmt.Errorf("updating pharmacy state: %w", err)
	}
	ph.Active = active
	return ph, nil
}

// SetThreshold updates the alert window of an active pharmacy. The current
// value is read first: an UPDATE that sets the same value reports zero
// affected rows, which would be indistinguishable from a missing pharmacy.
func (s *Store) SetThreshold(ctx context.Context, pharmacyID int64, days int) (int, error) {
	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT threshold_days FROM pharmacies WHERE id = $1 AND active`,
		pharmacyID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading threshold: %w", err)
	}

	if current == days {
		return current, store.ErrUnchanged
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE pharmacies SET threshold_days = $2 WHERE id = $1 AND active`,
		pharmacyID, days,
	); err != nil {
		return 0, fmt.Errorf("updating threshold: %w", err)
	}
	return current, nil
}

// Summary computes the state snapshot sent at handshake: active medication
// count, unread notification count, and the 10 most recently auto-expired
// medications. Manually deleted medications are not "expired while away".
func (s *Store) Summary(ctx context.Context, pharmacyID int64) (*store.Summary, error) {
	summary := &store.Summary{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM medications WHERE pharmacy_id = $1 AND active`,
		pharmacyID,
	).Scan(&summary.ActiveMedications)
	if err != nil {
		return nil, fmt.Errorf("counting active medications: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE pharmacy_id = $1 AND NOT is_read`,
		pharmacyID,
	).Scan(&summary.UnreadNotifications)
	if err != nil {
		return nil, fmt.Errorf("counting unread notifications: %w", err)
	}

	expired, err := s.queryMedications(ctx,
		`SELECT `+joinColumns(medicationColumns)+` FROM medications
		 WHERE pharmacy_id = $1 AND NOT active AND removal_reason = $2
		 ORDER BY expiry_date DESC LIMIT 10`,
		[]any{pharmacyID, store.RemovalExpired},
	)
	if err != nil {
		return nil, err
	}
	summary.ExpiredWhileAway = expired
	return summary, nil
}

// Stats aggregates the system snapshot for the monitor. The 7-day expiring
// window here is a global reference figure, independent of each pharmacy's
// own threshold.
func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pharmacies WHERE active`).Scan(&stats.ActivePharmacies)
	if err != nil {
		return nil, fmt.Errorf("counting pharmacies: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM medications WHERE active`).Scan(&stats.ActiveMedications)
	if err != nil {
		return nil, fmt.Errorf("counting medications: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM medications
		 WHERE active AND expiry_date BETWEEN CURRENT_DATE AND CURRENT_DATE + 7`,
	).Scan(&stats.ExpiringSoon)
	if err != nil {
		return nil, fmt.Errorf("counting expiring medications: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE created_at::date = CURRENT_DATE`,
	).Scan(&stats.NotificationsToday)
	if err != nil {
		return nil, fmt.Errorf("counting today's notifications: %w", err)
	}
	return stats, nil
}
