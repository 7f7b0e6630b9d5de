// Package tasks defines the background work PharmaNotify runs outside the
// relay: persisting and publishing notification events, the periodic expiry
// sweep, and the old-notification purge. The queue is asynq on Redis; the
// relay core only sees the Emitter port and never waits on delivery.
package tasks

import (
	"context"
	"errors"
	"fmt"
)

// Task type names on the asynq queue.
const (
	TypeNotifyEvent        = "notify:event"
	TypeCheckExpirations   = "expirations:check"
	TypePurgeNotifications = "notifications:purge"
)

// Task names accepted by the admin run_task command.
const (
	TaskCheckExpirations   = "check_expirations"
	TaskPurgeNotifications = "purge_old_notifications"
)

// Notification categories.
const (
	CategoryCreated      = "created"
	CategoryUpdated      = "updated"
	CategoryDeleted      = "deleted"
	CategoryExpiringSoon = "expiring_soon"
	CategoryExpired      = "expired"
)

// ErrUnknownTask is returned by RunTask for names outside the accepted set.
var ErrUnknownTask = errors.New("unknown task")

// EventPayload is the body of a notify:event task.
type EventPayload struct {
	PharmacyID int64  `json:"pharmacy_id"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

// Emitter is the outbound port the relay core uses to hand work to the task
// subsystem. Both methods are fire-and-forget: enqueueing succeeds or fails,
// delivery is the queue's problem (bounded retries with backoff).
type Emitter interface {
	// EmitEvent enqueues a notification event for a pharmacy.
	EmitEvent(ctx context.Context, pharmacyID int64, category, message string) error
	// RunTask enqueues a named maintenance task for immediate execution.
	// Returns ErrUnknownTask for names outside the accepted set.
	RunTask(ctx context.Context, name string) error
}

// taskTypeFor maps an admin-facing task name to its queue type.
func taskTypeFor(name string) (string, error) {
	switch name {
	case TaskCheckExpirations:
		return TypeCheckExpirations, nil
	case TaskPurgeNotifications:
		return TypePurgeNotifications, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
}
