// Package store defines the repository ports the relay core depends on and
// the domain types they exchange. The PostgreSQL implementation lives in
// store/postgres; tests substitute fakes. Every call is transactionally
// self-contained: no transaction spans more than one method.
package store

import (
	"context"
	"errors"
	"time"
)

// Removal reasons recorded when a medication is deactivated.
const (
	RemovalManual  = "manual"
	RemovalExpired = "expired"
)

// Sentinel errors surfaced as ok:false responses at the dispatch boundary.
var (
	// ErrNotFound means the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("already exists")
	// ErrInactive means the entity exists but is deactivated.
	ErrInactive = errors.New("inactive")
	// ErrUnchanged means the requested state is already in place.
	ErrUnchanged = errors.New("no change")
)

// Pharmacy is a registered pharmacy. Name is unique case-insensitively.
type Pharmacy struct {
	ID            int64
	Name          string
	ThresholdDays int
	Active        bool
	CreatedAt     time.Time
}

// Medication is one inventory item, keyed by (pharmacy, code). Inactive rows
// keep their RemovalReason: "manual" for user deletes, "expired" for the
// automatic expiry sweep.
type Medication struct {
	ID            int64
	PharmacyID    int64
	Code          string
	Name          string
	ExpiryDate    time.Time
	Active        bool
	RemovalReason string
	CreatedAt     time.Time
}

// MedicationUpdate carries the partial-update fields for a medication.
// Nil fields are left untouched.
type MedicationUpdate struct {
	Name       *string
	ExpiryDate *time.Time
}

// Notification is one persisted alert for a pharmacy.
type Notification struct {
	ID         int64
	PharmacyID int64
	Category   string
	Message    string
	Read       bool
	CreatedAt  time.Time
}

// ExpiringMedication is a medication inside its pharmacy's alert window.
type ExpiringMedication struct {
	PharmacyID    int64
	PharmacyName  string
	Code          string
	Name          string
	ExpiryDate    time.Time
	ThresholdDays int
	DaysLeft      int
}

// Summary is the state snapshot sent to a pharmacy at handshake.
type Summary struct {
	ActiveMedications   int
	UnreadNotifications int
	ExpiredWhileAway    []Medication // at most 10, newest expiry first
}

// Stats is the aggregate snapshot for the admin statistics command.
type Stats struct {
	ActivePharmacies   int
	ActiveMedications  int
	ExpiringSoon       int // within 7 days, global reference window
	NotificationsToday int
}

// Medications is the medication repository port.
type Medications interface {
	// Create inserts a medication. Returns ErrDuplicate when the pharmacy
	// already has an active medication with the same code.
	Create(ctx context.Context, pharmacyID int64, code, name string, expiry time.Time) (*Medication, error)
	// List returns the pharmacy's active medications, soonest expiry first.
	List(ctx context.Context, pharmacyID int64) ([]Medication, error)
	// FindByCode returns the active medication with the given code, or
	// ErrNotFound.
	FindByCode(ctx context.Context, pharmacyID int64, code string) (*Medication, error)
	// Update applies the non-nil fields of upd. Returns ErrNotFound when no
	// active medication matches.
	Update(ctx context.Context, pharmacyID int64, code string, upd MedicationUpdate) (*Medication, error)
	// SoftDelete deactivates a medication recording the removal reason.
	// Returns ErrNotFound when no active medication matches.
	SoftDelete(ctx context.Context, pharmacyID int64, code, reason string) error
	// ListExpiring returns active medications of active pharmacies whose
	// expiry falls inside that pharmacy's own threshold window. Already
	// expired medications are excluded; the sweep handles those.
	ListExpiring(ctx context.Context, now time.Time) ([]ExpiringMedication, error)
	// ExpireOverdue deactivates active medications whose expiry date has
	// passed, recording RemovalExpired, and returns the rows it flipped.
	ExpireOverdue(ctx context.Context, now time.Time) ([]Medication, error)
}

// Pharmacies is the pharmacy repository port. Its method names carry the
// entity because Store flattens this port together with Medications, whose
// create and list operate on medications.
type Pharmacies interface {
	// CreatePharmacy registers a pharmacy. Returns ErrDuplicate when the
	// name is taken (case-insensitive).
	CreatePharmacy(ctx context.Context, name string) (*Pharmacy, error)
	// ListPharmacies returns all pharmacies, active first, then by name.
	ListPharmacies(ctx context.Context) ([]Pharmacy, error)
	// FindByName looks a pharmacy up case-insensitively with no active
	// filter: the handshake needs to tell missing, deactivated, and active
	// apart. Returns ErrNotFound when the name is unknown.
	FindByName(ctx context.Context, name string) (*Pharmacy, error)
	// Rename renames an active pharmacy. Returns ErrNotFound when no active
	// pharmacy has the current name, ErrDuplicate when the new name is taken.
	Rename(ctx context.Context, currentName, newName string) (*Pharmacy, error)
	// SetActive activates or deactivates a pharmacy. Returns ErrNotFound for
	// unknown names and ErrUnchanged when it is already in that state.
	SetActive(ctx context.Context, name string, active bool) (*Pharmacy, error)
	// SetThreshold updates the alert window of an active pharmacy. Returns
	// the previous value, with ErrUnchanged when the value is already set
	// (no update is issued) and ErrNotFound when the pharmacy is missing or
	// inactive.
	SetThreshold(ctx context.Context, pharmacyID int64, days int) (previous int, err error)
	// Summary computes the handshake state snapshot.
	Summary(ctx context.Context, pharmacyID int64) (*Summary, error)
	// Stats computes the admin aggregate snapshot.
	Stats(ctx context.Context) (*Stats, error)
}

// Notifications is the notification-history repository port.
type Notifications interface {
	// Insert persists a notification (unread).
	Insert(ctx context.Context, pharmacyID int64, category, message string) error
	// ListAndMarkRead returns up to 50 newest notifications (optionally
	// unread only) and marks all the pharmacy's unread rows read, as one
	// logical operation.
	ListAndMarkRead(ctx context.Context, pharmacyID int64, unreadOnly bool) ([]Notification, error)
	// HasRecent reports whether an expiry alert mentioning the code was
	// created for the pharmacy within the window. Used to avoid re-alerting
	// the same medication every sweep.
	HasRecent(ctx context.Context, pharmacyID int64, code string, window time.Duration) (bool, error)
	// Purge deletes read notifications older than retention and returns the
	// number of rows removed.
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// Store bundles the three repository ports.
type Store interface {
	Medications
	Pharmacies
	Notifications
}
