package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
	"github.com/pharmanotify/pharmanotify/pkg/store"
	"github.com/pharmanotify/pharmanotify/pkg/tasks"
)

const dateLayout = "2006-01-02"

// Client channel actions.
const (
	ActionCreateMedication  = "create_medication"
	ActionListMedications   = "list_medications"
	ActionFindMedication    = "find_medication"
	ActionUpdateMedication  = "update_medication"
	ActionDeleteMedication  = "delete_medication"
	ActionViewNotifications = "view_notifications"
	ActionSetThreshold      = "set_alert_threshold"
	ActionStateSummary      = "state_summary"
)

// dispatch maps one request to one reply envelope. Validation and domain
// failures become ok:false responses; infrastructure failures become error
// envelopes; only an unrecognized action is an error by construction. The
// connection stays open in every case.
func (h *Handler) dispatch(ctx context.Context, s *session, req protocol.Request) any {
	switch req.Action {
	case ActionCreateMedication:
		return h.createMedication(ctx, s, req)
	case ActionListMedications:
		return h.listMedications(ctx, s)
	case ActionFindMedication:
		return h.findMedication(ctx, s, req)
	case ActionUpdateMedication:
		return h.updateMedication(ctx, s, req)
	case ActionDeleteMedication:
		return h.deleteMedication(ctx, s, req)
	case ActionViewNotifications:
		return h.viewNotifications(ctx, s, req)
	case ActionSetThreshold:
		return h.setThreshold(ctx, s, req)
	case ActionStateSummary:
		summary, err := h.stateSummary(ctx, s.pharmacyID)
		if err != nil {
			s.log.Error("computing state summary", "error", err)
			return protocol.ErrorEnvelope("could not compute state summary")
		}
		return summary
	default:
		return protocol.ErrorEnvelope(fmt.Sprintf("unknown action %q", req.Action))
	}
}

func (h *Handler) createMedication(ctx context.Context, s *session, req protocol.Request) any {
	if req.Code == "" {
		return protocol.FailResponse("medication code is required")
	}
	if req.Name == nil || *req.Name == "" {
		return protocol.FailResponse("medication name is required")
	}
	if req.ExpiryDate == nil {
		return protocol.FailResponse("expiry date is required")
	}
	expiry, err := time.Parse(dateLayout, *req.ExpiryDate)
	if err != nil {
		return protocol.FailResponse("expiry date must be YYYY-MM-DD")
	}

	med, err := h.store.Create(ctx, s.pharmacyID, req.Code, *req.Name, expiry)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return protocol.FailResponse(fmt.Sprintf("a medication with code %s already exists", req.Code))
	case err != nil:
		s.log.Error("creating medication", "code", req.Code, "error", err)
		return protocol.ErrorEnvelope("could not create medication")
	}

	h.emit(ctx, s, tasks.CategoryCreated,
		fmt.Sprintf("Medication '%s' (code %s) added, expires %s.",
			med.Name, med.Code, med.ExpiryDate.Format(dateLayout)))

	resp := protocol.OKResponse(fmt.Sprintf("medication %s created", med.Code))
	resp.Medication = medicationInfo(med)
	return resp
}

func (h *Handler) listMedications(ctx context.Context, s *session) any {
	meds, err := h.store.List(ctx, s.pharmacyID)
	if err != nil {
		s.log.Error("listing medications", "error", err)
		return protocol.ErrorEnvelope("could not list medications")
	}

	resp := protocol.OKResponse(fmt.Sprintf("%d active medication(s)", len(meds)))
	resp.Medications = make([]protocol.MedicationInfo, 0, len(meds))
	for i := range meds {
		resp.Medications = append(resp.Medications, *medicationInfo(&meds[i]))
	}
	return resp
}

func (h *Handler) findMedication(ctx context.Context, s *session, req protocol.Request) any {
	if req.Code == "" {
		return protocol.FailResponse("medication code is required")
	}

	med, err := h.store.FindByCode(ctx, s.pharmacyID, req.Code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse(fmt.Sprintf("no active medication with code %s", req.Code))
	case err != nil:
		s.log.Error("finding medication", "code", req.Code, "error", err)
		return protocol.ErrorEnvelope("could not find medication")
	}

	resp := protocol.OKResponse(fmt.Sprintf("medication %s found", med.Code))
	resp.Medication = medicationInfo(med)
	return resp
}

func (h *Handler) updateMedication(ctx context.Context, s *session, req protocol.Request) any {
	if req.Code == "" {
		return protocol.FailResponse("medication code is required")
	}

	var upd store.MedicationUpdate
	if req.Name != nil {
		if *req.Name == "" {
			return protocol.FailResponse("medication name cannot be empty")
		}
		upd.Name = req.Name
	}
	if req.ExpiryDate != nil {
		expiry, err := time.Parse(dateLayout, *req.ExpiryDate)
		if err != nil {
			return protocol.FailResponse("expiry date must be YYYY-MM-DD")
		}
		upd.ExpiryDate = &expiry
	}
	if upd.Name == nil && upd.ExpiryDate == nil {
		return protocol.FailResponse("nothing to update")
	}

	med, err := h.store.Update(ctx, s.pharmacyID, req.Code, upd)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse(fmt.Sprintf("no active medication with code %s", req.Code))
	case err != nil:
		s.log.Error("updating medication", "code", req.Code, "error", err)
		return protocol.ErrorEnvelope("could not update medication")
	}

	h.emit(ctx, s, tasks.CategoryUpdated,
		fmt.Sprintf("Medication '%s' (code %s) updated, expires %s.",
			med.Name, med.Code, med.ExpiryDate.Format(dateLayout)))

	resp := protocol.OKResponse(fmt.Sprintf("medication %s updated", med.Code))
	resp.Medication = medicationInfo(med)
	return resp
}

func (h *Handler) deleteMedication(ctx context.Context, s *session, req protocol.Request) any {
	if req.Code == "" {
		return protocol.FailResponse("medication code is required")
	}

	err := h.store.SoftDelete(ctx, s.pharmacyID, req.Code, store.RemovalManual)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse(fmt.Sprintf("no active medication with code %s", req.Code))
	case err != nil:
		s.log.Error("deleting medication", "code", req.Code, "error", err)
		return protocol.ErrorEnvelope("could not delete medication")
	}

	h.emit(ctx, s, tasks.CategoryDeleted,
		fmt.Sprintf("Medication with code %s removed from inventory.", req.Code))

	return protocol.OKResponse(fmt.Sprintf("medication %s deleted", req.Code))
}

func (h *Handler) viewNotifications(ctx context.Context, s *session, req protocol.Request) any {
	notifications, err := h.store.ListAndMarkRead(ctx, s.pharmacyID, req.UnreadOnly)
	if err != nil {
		s.log.Error("listing notifications", "error", err)
		return protocol.ErrorEnvelope("could not list notifications")
	}

	resp := protocol.OKResponse(fmt.Sprintf("%d notification(s)", len(notifications)))
	resp.Notifications = make([]protocol.NotificationInfo, 0, len(notifications))
	for _, n := range notifications {
		resp.Notifications = append(resp.Notifications, protocol.NotificationInfo{
			ID:        n.ID,
			Category:  n.Category,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

func (h *Handler) setThreshold(ctx context.Context, s *session, req protocol.Request) any {
	if req.ThresholdDays == nil {
		return protocol.FailResponse("threshold days is required")
	}
	days := *req.ThresholdDays
	if days < 1 || days > 365 {
		return protocol.FailResponse("threshold days must be between 1 and 365")
	}

	previous, err := h.store.SetThreshold(ctx, s.pharmacyID, days)
	switch {
	case errors.Is(err, store.ErrUnchanged):
		return protocol.OKResponse(fmt.Sprintf("no changes: threshold already %d day(s)", days))
	case errors.Is(err, store.ErrNotFound):
		return protocol.FailResponse("pharmacy not found or deactivated")
	case err != nil:
		s.log.Error("setting threshold", "days", days, "error", err)
		return protocol.ErrorEnvelope("could not update threshold")
	}
	return protocol.OKResponse(fmt.Sprintf("alert threshold changed from %d to %d day(s)", previous, days))
}

// emit enqueues a notification event. Enqueue failures are logged only: the
// repository write already succeeded and the response must not turn into a
// failure because the queue hiccuped.
func (h *Handler) emit(ctx context.Context, s *session, category, message string) {
	if err := h.emitter.EmitEvent(ctx, s.pharmacyID, category, message); err != nil {
		s.log.Error("emitting event", "category", category, "error", err)
	}
}

func medicationInfo(med *store.Medication) *protocol.MedicationInfo {
	return &protocol.MedicationInfo{
		Code:       med.Code,
		Name:       med.Name,
		ExpiryDate: med.ExpiryDate.Format(dateLayout),
	}
}
