// Package admin serves the operator control channel on the local unix
// socket. Every connection is one-shot: exactly one request, one response,
// then close. Admin connections never enter the session directory.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/pharmanotify/pharmanotify/pkg/directory"
	"github.com/pharmanotify/pharmanotify/pkg/health"
	"github.com/pharmanotify/pharmanotify/pkg/protocol"
	"github.com/pharmanotify/pharmanotify/pkg/store"
	"github.com/pharmanotify/pharmanotify/pkg/tasks"
)

// Admin channel actions.
const (
	ActionCreatePharmacy     = "create_pharmacy"
	ActionListPharmacies     = "list_pharmacies"
	ActionRenamePharmacy     = "rename_pharmacy"
	ActionDeactivatePharmacy = "deactivate_pharmacy"
	ActionActivatePharmacy   = "activate_pharmacy"
	ActionStatus             = "status"
	ActionStatistics         = "statistics"
	ActionRunTask            = "run_task"
)

// Handler serves admin connections.
type Handler struct {
	store   store.Store
	dir     *directory.Directory
	emitter tasks.Emitter
	checker *health.Checker
	log     *slog.Logger
}

// NewHandler creates an admin connection handler.
func NewHandler(st store.Store, dir *directory.Directory, emitter tasks.Emitter, checker *health.Checker, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		store:   st,
		dir:     dir,
		emitter: emitter,
		checker: checker,
		log:     log.With("component", "admin"),
	}
}

// Handle serves one admin connection: read one request, dispatch, respond,
// close. A peer that closes without sending is logged and dropped without a
// response. Dispatch failures of any shape become an error envelope; an
// admin command never takes the listener down.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	var req protocol.Request
	if err := protocol.ReceiveInto(conn, &req); err != nil {
		if !errors.Is(err, io.EOF) {
			h.log.Warn("admin request unreadable", "error", err)
		}
		return
	}

	reply := h.dispatch(ctx, req)
	if err := protocol.Send(conn, reply); err != nil {
		h.log.Warn("writing admin response failed", "action", req.Action, "error", err)
	}
}

func (h *Handler) dispatch(ctx context.Context, req protocol.Request) any {
	switch req.Action {
	case ActionCreatePharmacy:
		return h.createPharmacy(ctx, req)
	case ActionListPharmacies:
		return h.listPharmacies(ctx)
	case ActionRenamePharmacy:
		return h.renamePharmacy(ctx, req)
	case ActionDeactivatePharmacy:
		return h.setPharmacyActive(ctx, req, false)
	case ActionActivatePharmacy:
		return h.setPharmacyActive(ctx, req, true)
	case ActionStatus:
		return h.status()
	case ActionStatistics:
		return h.statistics(ctx)
	case ActionRunTask:
		return h.runTask(ctx, req)
	default:
		return protocol.ErrorEnvelope(fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (h *Handler) createPharmacy(ctx context.Context, req protocol.Request) any {
	name := ""
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	if name == "" {
		return protocol.FailResponse("pharmacy name is required")
	}

	pharmacy, err := h.store.CreatePharmacy(ctx, name)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return protocol.FailResponse(fmt.Sprintf("a pharmacy named %q already exists", name))
	case err != nil:
		h.log.Error("creating pharmacy", "name", name, "error", err)
		return protocol.ErrorEnvelope("could not create pharmacy")
	}

	h.log.Info("pharmacy created", "name", pharmacy.Name, "pharmacy_id", pharmacy.ID)
	return protocol.OKResponse(fmt.Sprintf("pharmacy %q created with id %d", pharmacy.Name, pharmacy.ID))
}

func (h *Handler) listPharmacies(ctx context.Context) any {
	pharmacies, err := h.store.ListPharmacies(ctx)
	if err != nil {
		h.log.Error("listing pharmacies", "error", err)
		return protocol.ErrorEnvelope("could not list pharmacies")
	}

	resp := protocol.OKResponse(fmt.Sprintf("%d pharmacy(ies)", len(pharmacies)))
	resp.Pharmacies = make([]protocol.PharmacyInfo, 0, len(pharmacies))
	for _, ph := range pharmacies {
		resp.Pharmacies = append(resp.Pharmacies, pharmacyInfo(ph))
	}
	return resp
}

func (h *Handler) renamePharmacy(ctx context.Context, req protocol.Request) any {
	current := strings.TrimSpace(req.CurrentName)
	next := strings.TrimSpace(req.NewName)
	if current == "" || next == "" {
		return protocol.FailResponse("both current and new pharmacy names are required")
	}

	pharmacy, err := h.store.Rename(ctx, current, next)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse(fmt.Sprintf("no active pharmacy named %q", current))
	case errors.Is(err, store.ErrDuplicate):
		return protocol.FailResponse(fmt.Sprintf("a pharmacy named %q already exists", next))
	case err != nil:
		h.log.Error("renaming pharmacy", "current", current, "new", next, "error", err)
		return protocol.ErrorEnvelope("could not rename pharmacy")
	}

	h.log.Info("pharmacy renamed", "from", current, "to", pharmacy.Name)
	return protocol.OKResponse(fmt.Sprintf("pharmacy %q renamed to %q", current, pharmacy.Name))
}

// setPharmacyActive flips a pharmacy's active flag. Deactivation additionally
// forces out the live session, if any: the repository change lands first,
// then the connected client gets a closing notice. Notice failures are
// swallowed; the session may already be gone.
func (h *Handler) setPharmacyActive(ctx context.Context, req protocol.Request, active bool) any {
	name := ""
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	if name == "" {
		return protocol.FailResponse("pharmacy name is required")
	}

	verb := "deactivated"
	if active {
		verb = "activated"
	}

	pharmacy, err := h.store.SetActive(ctx, name, active)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse(fmt.Sprintf("no pharmacy named %q", name))
	case errors.Is(err, store.ErrUnchanged):
		return protocol.OKResponse(fmt.Sprintf("pharmacy %q is already %s", name, verb))
	case err != nil:
		h.log.Error("updating pharmacy active flag", "name", name, "active", active, "error", err)
		return protocol.ErrorEnvelope(fmt.Sprintf("could not %s pharmacy", strings.TrimSuffix(verb, "d")))
	}

	if !active {
		if entry := h.dir.LookupByName(name); entry != nil {
			h.log.Info("forcing out deactivated pharmacy", "name", entry.Name)
			_ = entry.Conn.Kick("your pharmacy was deactivated by an administrator")
			h.dir.Unregister(entry.PharmacyID, entry.Name, entry.Conn)
		}
	}

	h.log.Info("pharmacy "+verb, "name", pharmacy.Name)
	return protocol.OKResponse(fmt.Sprintf("pharmacy %q %s", pharmacy.Name, verb))
}

// status reports the directory snapshot and coordinator state without
// touching the repository.
func (h *Handler) status() any {
	resp := protocol.OKResponse("server status")
	resp.Connected = h.dir.Names()
	resp.TotalOnline = h.dir.Len()
	resp.ServerState = h.checker.State()
	return resp
}

func (h *Handler) statistics(ctx context.Context) any {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.log.Error("computing statistics", "error", err)
		return protocol.ErrorEnvelope("could not compute statistics")
	}

	resp := protocol.OKResponse("system statistics")
	resp.Stats = &protocol.Stats{
		ActivePharmacies:   stats.ActivePharmacies,
		ActiveMedications:  stats.ActiveMedications,
		ExpiringSoon:       stats.ExpiringSoon,
		NotificationsToday: stats.NotificationsToday,
	}
	return resp
}

// runTask triggers a scheduler job immediately. An unknown task name is a
// failure response, not an error.
func (h *Handler) runTask(ctx context.Context, req protocol.Request) any {
	name := strings.TrimSpace(req.Task)
	err := h.emitter.RunTask(ctx, name)
	switch {
	case errors.Is(err, tasks.ErrUnknownTask):
		return protocol.FailResponse(fmt.Sprintf("unknown task %q", name))
	case err != nil:
		h.log.Error("enqueueing task", "task", name, "error", err)
		return protocol.ErrorEnvelope("could not enqueue task")
	}
	return protocol.OKResponse(fmt.Sprintf("task %q enqueued", name))
}

func pharmacyInfo(ph store.Pharmacy) protocol.PharmacyInfo {
	return protocol.PharmacyInfo{
		ID:            ph.ID,
		Name:          ph.Name,
		ThresholdDays: ph.ThresholdDays,
		Active:        ph.Active,
		CreatedAt:     ph.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
