// Package directory tracks which pharmacies are online. It is the single
// source of truth for event routing and admin status queries, keeping two
// synchronized indices: by pharmacy id (relay routing) and by normalized name
// (admin operations). Admin connections are never registered.
package directory

import (
	"sync"
	"time"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

// Conn is the slice of a live session the directory hands out: enough to
// push a notification or force the session closed, nothing more. The session
// handler owns the underlying connection.
type Conn interface {
	// Notify pushes a notification envelope to the peer.
	Notify(message string) error
	// Kick sends a closing notice and closes the connection. It must be
	// safe to call on an already-closed session.
	Kick(reason string) error
}

// Entry is one online pharmacy.
type Entry struct {
	PharmacyID  int64
	Name        string // as provided at handshake, trimmed
	Conn        Conn
	ConnectedAt time.Time
}

// Directory is a concurrency-safe registry of online pharmacies. Both
// indices are updated under one lock, so a reader never observes an entry
// present in one index and missing from the other.
type Directory struct {
	mu     sync.RWMutex
	byID   map[int64]*Entry
	byName map[string]*Entry
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		byID:   make(map[int64]*Entry),
		byName: make(map[string]*Entry),
	}
}

// Register inserts a pharmacy into both indices, overwriting any previous
// entry for the same identity. It returns the entry it displaced, if any,
// so the caller can dispose of the superseded connection.
func (d *Directory) Register(pharmacyID int64, name string, conn Conn) *Entry {
	entry := &Entry{
		PharmacyID:  pharmacyID,
		Name:        name,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.byID[pharmacyID]
	d.byID[pharmacyID] = entry
	d.byName[protocol.NormalizeName(name)] = entry
	return previous
}

// Unregister removes the pharmacy from both indices, but only if the given
// conn still owns the entry. A session whose registration was overwritten by
// a newer connection must not evict its successor. Calling Unregister for an
// absent pharmacy is a no-op: disconnect paths tolerate running after an
// admin-forced close already cleaned up.
func (d *Directory) Unregister(pharmacyID int64, name string, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.byID[pharmacyID]; ok && entry.Conn == conn {
		delete(d.byID, pharmacyID)
	}
	normalized := protocol.NormalizeName(name)
	if entry, ok := d.byName[normalized]; ok && entry.Conn == conn {
		delete(d.byName, normalized)
	}
}

// LookupByID returns the online entry for a pharmacy id, or nil.
func (d *Directory) LookupByID(pharmacyID int64) *Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byID[pharmacyID]
}

// LookupByName returns the online entry for a normalized name, or nil.
func (d *Directory) LookupByName(name string) *Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byName[protocol.NormalizeName(name)]
}

// Names returns the names of all online pharmacies.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.byName))
	for _, entry := range d.byName {
		names = append(names, entry.Name)
	}
	return names
}

// Len returns the number of online pharmacies.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}
