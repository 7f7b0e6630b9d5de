package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope kinds tagged on every server-to-client message. Client-to-server
// messages are positional instead: the first frame on a connection is a
// handshake, every later frame is a request.
const (
	KindResponse     = "response"
	KindRejection    = "rejection"
	KindError        = "error"
	KindNotification = "notification"
	KindStateSummary = "state_summary"
)

// Handshake is the first message a pharmacy client sends, identifying itself
// by name. The name is matched case-insensitively against the registry.
type Handshake struct {
	PharmacyName string `json:"pharmacy_name"`
}

// Request is a client or admin command. Action selects the operation; the
// remaining fields keep the legacy wire names and are interpreted per action.
// Name and ExpiryDate are pointers so update_medication can distinguish
// "not provided" from "set to empty".
type Request struct {
	Action string `json:"action"`

	Code          string  `json:"codigo,omitempty"`
	Name          *string `json:"nombre,omitempty"`
	ExpiryDate    *string `json:"fecha_vencimiento,omitempty"`
	ThresholdDays *int    `json:"umbral_dias,omitempty"`
	UnreadOnly    bool    `json:"solo_no_leidas,omitempty"`

	// Admin channel fields.
	CurrentName string `json:"nombre_actual,omitempty"`
	NewName     string `json:"nombre_nuevo,omitempty"`
	Task        string `json:"tarea,omitempty"`
}

// Response is the terminal reply to a request. Exactly one Response (or
// Error) is sent per request on the client channel.
type Response struct {
	Kind    string `json:"kind"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`

	Medications   []MedicationInfo   `json:"medicamentos,omitempty"`
	Medication    *MedicationInfo    `json:"medicamento,omitempty"`
	Notifications []NotificationInfo `json:"notificaciones,omitempty"`
	Pharmacies    []PharmacyInfo     `json:"farmacias,omitempty"`
	Stats         *Stats             `json:"estadisticas,omitempty"`
	Connected     []string           `json:"farmacias_conectadas,omitempty"`
	// No omitempty: zero connected pharmacies is a real answer the monitor
	// renders, not an absent field.
	TotalOnline int    `json:"total_conectadas"`
	ServerState string `json:"server_state,omitempty"`
}

// Rejection is sent pre-handshake (unknown or deactivated pharmacy, empty
// name) and when an admin forces a connected pharmacy out.
type Rejection struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notification carries a live expiry/event alert pushed by the relay.
type Notification struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StateSummary reports a pharmacy's standing, sent right after a successful
// handshake and on request via the state_summary action.
type StateSummary struct {
	Kind                string          `json:"kind"`
	ActiveMedications   int             `json:"active_medications"`
	UnreadNotifications int             `json:"unread_notifications"`
	ExpiredWhileAway    []ExpiredRecord `json:"expired_while_away"`
}

// ExpiredRecord is one medication that auto-expired while the pharmacy was
// offline. At most the 10 most recent are reported.
type ExpiredRecord struct {
	Name       string `json:"name"`
	ExpiryDate string `json:"expiry_date"`
}

// MedicationInfo is the wire form of a medication row.
type MedicationInfo struct {
	Code       string `json:"codigo"`
	Name       string `json:"nombre"`
	ExpiryDate string `json:"fecha_vencimiento"`
}

// NotificationInfo is the wire form of a stored notification.
type NotificationInfo struct {
	ID        int64  `json:"id"`
	Category  string `json:"tipo"`
	Message   string `json:"mensaje"`
	Read      bool   `json:"leida"`
	CreatedAt string `json:"creado_en"`
}

// PharmacyInfo is the wire form of a pharmacy row, used by the admin channel.
type PharmacyInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"nombre"`
	ThresholdDays int    `json:"umbral_dias"`
	Active        bool   `json:"activo"`
	CreatedAt     string `json:"creado_en"`
}

// Stats is the aggregate system snapshot for the admin statistics command.
type Stats struct {
	ActivePharmacies   int `json:"farmacias_activas"`
	ActiveMedications  int `json:"medicamentos_activos"`
	ExpiringSoon       int `json:"proximos_a_vencer"`
	NotificationsToday int `json:"notificaciones_hoy"`
}

// BusEvent is the payload published on the notification pub/sub channel.
// Historic producers used the Spanish field names, so decoding accepts both.
type BusEvent struct {
	PharmacyID int64  `json:"pharmacy_id"`
	Message    string `json:"message"`
}

// UnmarshalJSON accepts farmacia_id/pharmacy_id and mensaje/message aliases.
func (e *BusEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		PharmacyID   *int64  `json:"pharmacy_id"`
		PharmacyIDES *int64  `json:"farmacia_id"`
		Message      *string `json:"message"`
		MessageES    *string `json:"mensaje"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.PharmacyID != nil:
		e.PharmacyID = *raw.PharmacyID
	case raw.PharmacyIDES != nil:
		e.PharmacyID = *raw.PharmacyIDES
	default:
		return fmt.Errorf("bus event missing pharmacy id")
	}

	switch {
	case raw.Message != nil:
		e.Message = *raw.Message
	case raw.MessageES != nil:
		e.Message = *raw.MessageES
	default:
		return fmt.Errorf("bus event missing message")
	}
	return nil
}

// OKResponse builds a success response.
func OKResponse(message string) Response {
	return Response{Kind: KindResponse, OK: true, Message: message}
}

// FailResponse builds a recoverable-failure response. The connection stays
// open; the caller simply got a "no" with a reason.
func FailResponse(message string) Response {
	return Response{Kind: KindResponse, OK: false, Message: message}
}

// ErrorEnvelope builds an error envelope for unrecognized actions and
// handler-boundary failures.
func ErrorEnvelope(message string) Rejection {
	return Rejection{Kind: KindError, Message: message}
}

// RejectionEnvelope builds a rejection envelope.
func RejectionEnvelope(message string) Rejection {
	return Rejection{Kind: KindRejection, Message: message}
}

// NotificationEnvelope builds a notification envelope.
func NotificationEnvelope(message string) Notification {
	return Notification{Kind: KindNotification, Message: message}
}

// NormalizeName canonicalizes a pharmacy name for lookups: surrounding
// whitespace is dropped and comparison is case-insensitive. Stored names
// keep their original casing.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
