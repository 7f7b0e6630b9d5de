// Package postgres implements the store ports on PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/pharmanotify/pharmanotify/pkg/store"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations, used as a backstop behind the explicit duplicate checks.
const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements store.Store on a *sql.DB.
type Store struct {
	db *sql.DB
}

// New creates a Store on an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*Store, *sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}
	return New(db), db, nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// nullableString maps an absent text column to "".
func nullableString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

// dateOnly truncates a timestamp to its date in UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Verify interface compliance.
var _ store.Store = (*Store)(nil)
