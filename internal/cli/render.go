package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

// envelopeKind peeks at the kind tag of a raw frame. Unknown or untagged
// frames return an empty string.
func envelopeKind(payload []byte) string {
	var tagged struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(payload, &tagged); err != nil {
		return ""
	}
	return tagged.Kind
}

// printEnvelope renders one server frame for a terminal.
func printEnvelope(out io.Writer, kind string, payload []byte) {
	switch kind {
	case protocol.KindResponse:
		var resp protocol.Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			fmt.Fprintf(out, "unreadable response: %v\n", err)
			return
		}
		printResponse(out, resp)
	case protocol.KindStateSummary:
		var summary protocol.StateSummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			fmt.Fprintf(out, "unreadable summary: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Active medications: %d | Unread notifications: %d\n",
			summary.ActiveMedications, summary.UnreadNotifications)
		if len(summary.ExpiredWhileAway) > 0 {
			fmt.Fprintln(out, "Expired while you were away:")
			for _, rec := range summary.ExpiredWhileAway {
				fmt.Fprintf(out, "  - %s (expired %s)\n", rec.Name, rec.ExpiryDate)
			}
		}
	case protocol.KindRejection, protocol.KindError:
		var envelope protocol.Rejection
		if err := json.Unmarshal(payload, &envelope); err != nil {
			fmt.Fprintf(out, "unreadable %s frame\n", kind)
			return
		}
		fmt.Fprintf(out, "[%s] %s\n", kind, envelope.Message)
	case protocol.KindNotification:
		var n protocol.Notification
		if err := json.Unmarshal(payload, &n); err == nil {
			fmt.Fprintf(out, "[NOTIFICATION] %s\n", n.Message)
		}
	default:
		fmt.Fprintf(out, "%s\n", payload)
	}
}

func printResponse(out io.Writer, resp protocol.Response) {
	status := "OK"
	if !resp.OK {
		status = "FAILED"
	}
	fmt.Fprintf(out, "[%s] %s\n", status, resp.Message)

	if resp.Medication != nil {
		printMedication(out, *resp.Medication)
	}
	for _, med := range resp.Medications {
		printMedication(out, med)
	}
	for _, n := range resp.Notifications {
		read := " "
		if n.Read {
			read = "x"
		}
		fmt.Fprintf(out, "  [%s] (%s) %s\n", read, n.Category, n.Message)
	}
	for _, ph := range resp.Pharmacies {
		state := "active"
		if !ph.Active {
			state = "inactive"
		}
		fmt.Fprintf(out, "  #%d %s [%s] threshold=%dd\n", ph.ID, ph.Name, state, ph.ThresholdDays)
	}
	if resp.Stats != nil {
		fmt.Fprintf(out, "  pharmacies=%d medications=%d expiring_soon=%d notifications_today=%d\n",
			resp.Stats.ActivePharmacies, resp.Stats.ActiveMedications,
			resp.Stats.ExpiringSoon, resp.Stats.NotificationsToday)
	}
	if resp.ServerState != "" {
		fmt.Fprintf(out, "  state=%s online=%d connected=%v\n",
			resp.ServerState, resp.TotalOnline, resp.Connected)
	}
}

func printMedication(out io.Writer, med protocol.MedicationInfo) {
	fmt.Fprintf(out, "  %s - %s (expires %s)\n", med.Code, med.Name, med.ExpiryDate)
}
