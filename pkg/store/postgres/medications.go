package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/pharmanotify/pharmanotify/pkg/store"
)

// medicationColumns lists columns returned by medication SELECT queries.
var medicationColumns = []string{
	"id", "pharmacy_id", "code", "name", "expiry_date",
	"active", "removal_reason", "created_at",
}

// Create inserts a medication after checking for an active duplicate code.
// The partial unique index on (pharmacy_id, lower(code)) backstops the check.
func (s *Store) Create(ctx context.Context, pharmacyID int64, code, name string, expiry time.Time) (*store.Medication, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM medications WHERE pharmacy_id = $1 AND LOWER(code) = LOWER($2) AND active)`,
		pharmacyID, code,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking duplicate medication: %w", err)
	}
	if exists {
		return nil, store.ErrDuplicate
	}

	med := &store.Medication{
		PharmacyID: pharmacyID,
		Code:       code,
		Name:       name,
		ExpiryDate: dateOnly(expiry),
		Active:     true,
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO medications (pharmacy_id, code, name, expiry_date)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		pharmacyID, code, name, med.ExpiryDate,
	).Scan(&med.ID, &med.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("inserting medication: %w", err)
	}
	return med, nil
}

// List returns active medications ordered by expiry date ascending.
func (s *Store) List(ctx context.Context, pharmacyID int64) ([]store.Medication, error) {
	query, args, err := psq.Select(medicationColumns...).
		From("medications").
		Where(sq.Eq{"pharmacy_id": pharmacyID, "active": true}).
		OrderBy("expiry_date ASC", "code ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building medication list query: %w", err)
	}
	return s.queryMedications(ctx, query, args)
}

// FindByCode returns the active medication with the given code.
func (s *Store) FindByCode(ctx context.Context, pharmacyID int64, code string) (*store.Medication, error) {
	query, args, err := psq.Select(medicationColumns...).
		From("medications").
		Where(sq.Eq{"pharmacy_id": pharmacyID, "active": true}).
		Where("LOWER(code) = LOWER(?)", code).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building medication find query: %w", err)
	}

	med, err := scanMedication(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding medication: %w", err)
	}
	return med, nil
}

// Update applies the non-nil fields of upd to an active medication.
func (s *Store) Update(ctx context.Context, pharmacyID int64, code string, upd store.MedicationUpdate) (*store.Medication, error) {
	qb := psq.Update("medications").
		Where(sq.Eq{"pharmacy_id": pharmacyID, "active": true}).
		Where("LOWER(code) = LOWER(?)", code).
		Suffix("RETURNING " + joinColumns(medicationColumns))

	changed := false
	if upd.Name != nil {
		qb = qb.Set("name", *upd.Name)
		changed = true
	}
	if upd.ExpiryDate != nil {
		qb = qb.Set("expiry_date", dateOnly(*upd.ExpiryDate))
		changed = true
	}
	if !changed {
		// Nothing to set: report the current row so the caller can still
		// answer, or ErrNotFound if the code is unknown.
		return s.FindByCode(ctx, pharmacyID, code)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building medication update query: %w", err)
	}

	med, err := scanMedication(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating medication: %w", err)
	}
	return med, nil
}

// SoftDelete deactivates an active medication recording the removal reason.
func (s *Store) SoftDelete(ctx context.Context, pharmacyID int64, code, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE medications SET active = FALSE, removal_reason = $3
		 WHERE pharmacy_id = $1 AND LOWER(code) = LOWER($2) AND active`,
		pharmacyID, code, reason,
	)
	if err != nil {
		return fmt.Errorf("deleting medication: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading delete result: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListExpiring returns medications inside their own pharmacy's alert window.
// Each pharmacy has its own threshold, so the window comes from the join.
func (s *Store) ListExpiring(ctx context.Context, now time.Time) ([]store.ExpiringMedication, error) {
	today := dateOnly(now)
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.pharmacy_id, p.name, m.code, m.name, m.expiry_date,
		        p.threshold_days, m.expiry_date - $1::date AS days_left
		 FROM medications m
		 JOIN pharmacies p ON p.id = m.pharmacy_id
		 WHERE m.active AND p.active
		   AND m.expiry_date >= $1::date
		   AND m.expiry_date <= $1::date + p.threshold_days
		 ORDER BY m.expiry_date ASC`,
		today,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expiring medications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []store.ExpiringMedication
	for rows.Next() {
		var em store.ExpiringMedication
		if err := rows.Scan(&em.PharmacyID, &em.PharmacyName, &em.Code, &em.Name,
			&em.ExpiryDate, &em.ThresholdDays, &em.DaysLeft); err != nil {
			return nil, fmt.Errorf("scanning expiring medication: %w", err)
		}
		result = append(result, em)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expiring medications: %w", err)
	}
	return result, nil
}

// ExpireOverdue deactivates medications whose expiry date has passed and
// returns the rows it flipped so the caller can notify their pharmacies.
func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) ([]store.Medication, error) {
	query := `UPDATE medications SET active = FALSE, removal_reason = $2
		 WHERE active AND expiry_date < $1::date
		 RETURNING ` + joinColumns(medicationColumns)
	return s.queryMedications(ctx, query, []any{dateOnly(now), store.RemovalExpired})
}

func (s *Store) queryMedications(ctx context.Context, query string, args []any) ([]store.Medication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying medications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var meds []store.Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning medication: %w", err)
		}
		meds = append(meds, *med)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating medications: %w", err)
	}
	return meds, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedication(row rowScanner) (*store.Medication, error) {
	var med store.Medication
	var reason sql.NullString
	err := row.Scan(&med.ID, &med.PharmacyID, &med.Code, &med.Name,
		&med.ExpiryDate, &med.Active, &reason, &med.CreatedAt)
	if err != nil {
		return nil, err
	}
	med.RemovalReason = nullableString(reason)
	return &med, nil
}

func joinColumns(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
