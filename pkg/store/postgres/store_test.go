package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmanotify/pharmanotify/pkg/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

func medicationRows(meds ...store.Medication) *sqlmock.Rows {
	rows := sqlmock.NewRows(medicationColumns)
	for _, m := range meds {
		rows.AddRow(m.ID, m.PharmacyID, m.Code, m.Name, m.ExpiryDate, m.Active, m.RemovalReason, m.CreatedAt)
	}
	return rows
}

func TestMedicationCreate(t *testing.T) {
	s, mock := newMockStore(t)
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM medications`).
		WithArgs(int64(1), "X1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO medications`).
		WithArgs(int64(1), "X1", "Ibuprofeno", expiry).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), time.Now()))

	med, err := s.Create(context.Background(), 1, "X1", "Ibuprofeno", expiry)
	require.NoError(t, err)
	assert.Equal(t, int64(10), med.ID)
	assert.Equal(t, "X1", med.Code)
	assert.True(t, med.Active)
}

func TestMedicationCreate_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)

	// The duplicate check short-circuits before any INSERT.
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM medications`).
		WithArgs(int64(1), "X1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.Create(context.Background(), 1, "X1", "Ibuprofeno", time.Now())
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestMedicationFindByCode_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, pharmacy_id, code, name, expiry_date, active, removal_reason, created_at FROM medications`).
		WillReturnRows(medicationRows())

	_, err := s.FindByCode(context.Background(), 1, "MISSING")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMedicationUpdate_PartialFields(t *testing.T) {
	s, mock := newMockStore(t)
	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE medications SET expiry_date = .+ RETURNING`).
		WillReturnRows(medicationRows(store.Medication{
			ID: 3, PharmacyID: 1, Code: "X1", Name: "Ibuprofeno",
			ExpiryDate: expiry, Active: true, CreatedAt: time.Now(),
		}))

	med, err := s.Update(context.Background(), 1, "X1", store.MedicationUpdate{ExpiryDate: &expiry})
	require.NoError(t, err)
	assert.Equal(t, expiry, med.ExpiryDate)
}

func TestMedicationSoftDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE medications SET active = FALSE, removal_reason = \$3`).
		WithArgs(int64(1), "X1", store.RemovalManual).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.SoftDelete(context.Background(), 1, "X1", store.RemovalManual))

	mock.ExpectExec(`UPDATE medications SET active = FALSE, removal_reason = \$3`).
		WithArgs(int64(1), "GONE", store.RemovalManual).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.SoftDelete(context.Background(), 1, "GONE", store.RemovalManual)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMedicationExpireOverdue(t *testing.T) {
	s, mock := newMockStore(t)
	expiry := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE medications SET active = FALSE, removal_reason = \$2`).
		WillReturnRows(medicationRows(store.Medication{
			ID: 5, PharmacyID: 2, Code: "OLD", Name: "Aspirina",
			ExpiryDate: expiry, RemovalReason: store.RemovalExpired, CreatedAt: time.Now(),
		}))

	flipped, err := s.ExpireOverdue(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, "OLD", flipped[0].Code)
	assert.Equal(t, store.RemovalExpired, flipped[0].RemovalReason)
}

func TestPharmacyCreate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pharmacies`).
		WithArgs("Farmacia Centro").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO pharmacies`).
		WithArgs("Farmacia Centro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "threshold_days", "created_at"}).
			AddRow(int64(1), 7, time.Now()))

	ph, err := s.CreatePharmacy(context.Background(), "Farmacia Centro")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ph.ID)
	assert.Equal(t, 7, ph.ThresholdDays)
	assert.True(t, ph.Active)

	// Duplicate check short-circuits before any INSERT.
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pharmacies`).
		WithArgs("farmacia centro").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	_, err = s.CreatePharmacy(context.Background(), "farmacia centro")
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestPharmacyList(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, threshold_days, active, created_at FROM pharmacies ORDER BY active DESC, name ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "threshold_days", "active", "created_at"}).
			AddRow(int64(1), "Farmacia Centro", 7, true, now).
			AddRow(int64(2), "Farmacia Sur", 14, false, now))

	pharmacies, err := s.ListPharmacies(context.Background())
	require.NoError(t, err)
	require.Len(t, pharmacies, 2)
	assert.True(t, pharmacies[0].Active)
	assert.False(t, pharmacies[1].Active)
}

func TestPharmacySetThreshold(t *testing.T) {
	s, mock := newMockStore(t)

	// Same value: read only, no UPDATE issued.
	mock.ExpectQuery(`SELECT threshold_days FROM pharmacies`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"threshold_days"}).AddRow(7))
	previous, err := s.SetThreshold(context.Background(), 1, 7)
	assert.ErrorIs(t, err, store.ErrUnchanged)
	assert.Equal(t, 7, previous)

	// New value: read then update.
	mock.ExpectQuery(`SELECT threshold_days FROM pharmacies`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"threshold_days"}).AddRow(7))
	mock.ExpectExec(`UPDATE pharmacies SET threshold_days = \$2`).
		WithArgs(int64(1), 14).
		WillReturnResult(sqlmock.NewResult(0, 1))
	previous, err = s.SetThreshold(context.Background(), 1, 14)
	require.NoError(t, err)
	assert.Equal(t, 7, previous)
}

func TestPharmacySetActive_AlreadyInState(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, threshold_days, active, created_at FROM pharmacies`).
		WithArgs("Farmacia Centro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "threshold_days", "active", "created_at"}).
			AddRow(int64(1), "Farmacia Centro", 7, true, time.Now()))

	ph, err := s.SetActive(context.Background(), "Farmacia Centro", true)
	assert.ErrorIs(t, err, store.ErrUnchanged)
	require.NotNil(t, ph)
	assert.True(t, ph.Active)
}

func TestPharmacyRename_NewNameTaken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id FROM pharmacies WHERE LOWER\(name\) = LOWER\(\$1\) AND active`).
		WithArgs("Farmacia Centro").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM pharmacies`).
		WithArgs("Farmacia Sur").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.Rename(context.Background(), "Farmacia Centro", "Farmacia Sur")
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestNotificationListAndMarkRead(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, pharmacy_id, category, message, is_read, created_at FROM notifications`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pharmacy_id", "category", "message", "is_read", "created_at"}).
			AddRow(int64(2), int64(1), "expiring_soon", "X1 expires soon", false, now).
			AddRow(int64(1), int64(1), "created", "X1 added", true, now.Add(-time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE notifications SET is_read = TRUE WHERE pharmacy_id = $1 AND NOT is_read`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notifications, err := s.ListAndMarkRead(context.Background(), 1, false)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.False(t, notifications[0].Read)
}

func TestNotificationHasRecent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(`).
		WithArgs(int64(1), "expiring_soon", "X1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	recent, err := s.HasRecent(context.Background(), 1, "X1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, recent)
}

func TestNotificationPurge(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM notifications WHERE is_read`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 12))

	deleted, err := s.Purge(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
}

func TestPharmacySummary(t *testing.T) {
	s, mock := newMockStore(t)
	expiry := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM medications WHERE pharmacy_id = \$1 AND active`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM notifications WHERE pharmacy_id = \$1 AND NOT is_read`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM medications\s+WHERE pharmacy_id = \$1 AND NOT active AND removal_reason = \$2`).
		WithArgs(int64(1), store.RemovalExpired).
		WillReturnRows(medicationRows(store.Medication{
			ID: 9, PharmacyID: 1, Code: "OLD", Name: "Aspirina",
			ExpiryDate: expiry, RemovalReason: store.RemovalExpired, CreatedAt: time.Now(),
		}))

	summary, err := s.Summary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ActiveMedications)
	assert.Equal(t, 1, summary.UnreadNotifications)
	require.Len(t, summary.ExpiredWhileAway, 1)
	assert.Equal(t, "Aspirina", summary.ExpiredWhileAway[0].Name)
}
