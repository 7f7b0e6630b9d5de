// Package session implements the per-connection client lifecycle: handshake,
// the sequential request loop, and cleanup. Each connection runs one state
// machine (awaiting handshake, active, closed) in its own goroutine; the
// session it produces is what the directory and the relay hold on to.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pharmanotify/pharmanotify/pkg/directory"
	"github.com/pharmanotify/pharmanotify/pkg/protocol"
	"github.com/pharmanotify/pharmanotify/pkg/store"
	"github.com/pharmanotify/pharmanotify/pkg/tasks"
)

// Handler accepts client connections and runs their sessions. One Handler
// serves all connections; per-connection state lives in session values.
type Handler struct {
	store   store.Store
	dir     *directory.Directory
	emitter tasks.Emitter
	log     *slog.Logger
}

// NewHandler creates a client connection handler.
func NewHandler(st store.Store, dir *directory.Directory, emitter tasks.Emitter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:   st,
		dir:     dir,
		emitter: emitter,
		log:     log.With("component", "session"),
	}
}

// session is one live client connection. It implements directory.Conn so the
// relay and the admin handler can push frames or force a close; all writes go
// through one mutex so pushed notifications never interleave with responses.
type session struct {
	conn net.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	pharmacyID int64
	name       string
}

func (s *session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.Send(s.conn, v)
}

// Notify pushes a notification envelope to the client.
func (s *session) Notify(message string) error {
	return s.send(protocol.NotificationEnvelope(message))
}

// Kick sends a closing notice and closes the connection. Safe to call on a
// session that is already gone; the notice is best-effort.
func (s *session) Kick(reason string) error {
	_ = s.send(protocol.RejectionEnvelope(reason))
	s.close()
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// Verify interface compliance.
var _ directory.Conn = (*session)(nil)

// Handle owns conn for its lifetime: it runs the handshake, then the request
// loop, and always closes the connection and clears the directory entry on
// the way out, whichever path ended the session.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	s := &session{
		conn: conn,
		log: h.log.With(
			"conn_id", uuid.NewString(),
			"remote", conn.RemoteAddr().String(),
		),
	}
	defer s.close()

	if !h.handshake(ctx, s) {
		return
	}
	defer h.dir.Unregister(s.pharmacyID, s.name, s)

	s.log.Info("session active", "pharmacy", s.name, "pharmacy_id", s.pharmacyID)
	h.serve(ctx, s)
	s.log.Info("session closed", "pharmacy", s.name)
}

// handshake drives AWAITING_HANDSHAKE: it reads the first frame, resolves the
// pharmacy, registers the session, and sends the state summary. It reports
// whether the session reached ACTIVE; on false the caller just closes.
func (h *Handler) handshake(ctx context.Context, s *session) bool {
	var hs protocol.Handshake
	if err := protocol.ReceiveInto(s.conn, &hs); err != nil {
		if !errors.Is(err, io.EOF) {
			s.log.Warn("handshake failed", "error", err)
		}
		return false
	}

	name := strings.TrimSpace(hs.PharmacyName)
	if name == "" {
		_ = s.send(protocol.RejectionEnvelope("pharmacy name is required"))
		return false
	}

	pharmacy, err := h.store.FindByName(ctx, name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Info("handshake rejected: unknown pharmacy", "pharmacy", name)
		_ = s.send(protocol.RejectionEnvelope("pharmacy is not registered"))
		return false
	case err != nil:
		s.log.Error("handshake lookup failed", "pharmacy", name, "error", err)
		_ = s.send(protocol.ErrorEnvelope("internal error during handshake"))
		return false
	case !pharmacy.Active:
		s.log.Info("handshake rejected: deactivated pharmacy", "pharmacy", name)
		_ = s.send(protocol.RejectionEnvelope("pharmacy is deactivated"))
		return false
	}

	s.pharmacyID = pharmacy.ID
	s.name = name

	// The summary is computed before the session is registered so a failing
	// repository never strands an entry the cleanup path will not remove.
	summary, err := h.stateSummary(ctx, pharmacy.ID)
	if err != nil {
		s.log.Error("computing handshake summary", "pharmacy", name, "error", err)
		_ = s.send(protocol.ErrorEnvelope("internal error during handshake"))
		return false
	}

	// Last writer wins: a pharmacy reconnecting before its old session died
	// takes over the directory entry, and the old connection is told why.
	if displaced := h.dir.Register(pharmacy.ID, name, s); displaced != nil {
		s.log.Info("superseding previous session", "pharmacy", name)
		_ = displaced.Conn.Kick("superseded by a newer connection for this pharmacy")
	}

	if err := s.send(summary); err != nil {
		s.log.Warn("sending handshake summary", "error", err)
		h.dir.Unregister(s.pharmacyID, s.name, s)
		return false
	}
	return true
}

// serve is the ACTIVE loop: strictly sequential requests, exactly one reply
// frame per request.
func (h *Handler) serve(ctx context.Context, s *session) {
	for {
		var req protocol.Request
		if err := protocol.ReceiveInto(s.conn, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return // clean disconnect
			}
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("dropping session on protocol error", "error", err)
			}
			return
		}

		reply := h.dispatch(ctx, s, req)
		if err := s.send(reply); err != nil {
			s.log.Warn("writing response failed", "action", req.Action, "error", err)
			return
		}
	}
}

// stateSummary builds the state_summary envelope for a pharmacy.
func (h *Handler) stateSummary(ctx context.Context, pharmacyID int64) (protocol.StateSummary, error) {
	sum, err := h.store.Summary(ctx, pharmacyID)
	if err != nil {
		return protocol.StateSummary{}, err
	}

	expired := make([]protocol.ExpiredRecord, 0, len(sum.ExpiredWhileAway))
	for _, med := range sum.ExpiredWhileAway {
		expired = append(expired, protocol.ExpiredRecord{
			Name:       med.Name,
			ExpiryDate: med.ExpiryDate.Format(dateLayout),
		})
	}
	return protocol.StateSummary{
		Kind:                protocol.KindStateSummary,
		ActiveMedications:   sum.ActiveMedications,
		UnreadNotifications: sum.UnreadNotifications,
		ExpiredWhileAway:    expired,
	}, nil
}
