package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/pharmanotify/pharmanotify/pkg/protocol"
	"github.com/pharmanotify/pharmanotify/pkg/store"
)

// dedupWindow suppresses repeat expiring-soon alerts for the same medication.
const dedupWindow = 24 * time.Hour

// Worker executes queue tasks: it is the only component that both writes
// notification history and publishes on the live channel. Order matters:
// persist first, publish second, so a pharmacy that is offline still finds
// the notification in its history.
type Worker struct {
	store     store.Store
	rdb       *redis.Client
	channel   string
	emitter   Emitter
	retention time.Duration
	log       *slog.Logger
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Store     store.Store
	Redis     *redis.Client
	Channel   string
	Emitter   Emitter
	Retention time.Duration
	Logger    *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		store:     cfg.Store,
		rdb:       cfg.Redis,
		channel:   cfg.Channel,
		emitter:   cfg.Emitter,
		retention: cfg.Retention,
		log:       log.With("component", "worker"),
	}
}

// Register attaches the worker's handlers to an asynq mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNotifyEvent, w.HandleNotifyEvent)
	mux.HandleFunc(TypeCheckExpirations, w.HandleCheckExpirations)
	mux.HandleFunc(TypePurgeNotifications, w.HandlePurgeNotifications)
}

// HandleNotifyEvent persists a notification and then publishes it on the
// live channel. A returned error means asynq retries the whole task, so the
// insert must tolerate replays (duplicate history rows are acceptable,
// losing the row is not).
func (w *Worker) HandleNotifyEvent(ctx context.Context, task *asynq.Task) error {
	var event EventPayload
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("decoding event payload: %w", err)
	}

	if err := w.store.Insert(ctx, event.PharmacyID, event.Category, event.Message); err != nil {
		return fmt.Errorf("persisting notification: %w", err)
	}

	payload, err := json.Marshal(protocol.BusEvent{
		PharmacyID: event.PharmacyID,
		Message:    event.Message,
	})
	if err != nil {
		return fmt.Errorf("encoding bus event: %w", err)
	}
	if err := w.rdb.Publish(ctx, w.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing bus event: %w", err)
	}

	w.log.Info("notification event processed",
		"pharmacy_id", event.PharmacyID, "category", event.Category)
	return nil
}

// HandleCheckExpirations runs the expiry sweep: deactivate overdue
// medications, then alert on medications inside each pharmacy's own
// threshold window. Every finding becomes a notify:event task.
func (w *Worker) HandleCheckExpirations(ctx context.Context, _ *asynq.Task) error {
	now := time.Now()

	expired, err := w.store.ExpireOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("expiring overdue medications: %w", err)
	}
	for _, med := range expired {
		message := fmt.Sprintf("Medication '%s' (code %s) expired on %s and was removed from inventory.",
			med.Name, med.Code, med.ExpiryDate.Format("2006-01-02"))
		if err := w.emitter.EmitEvent(ctx, med.PharmacyID, CategoryExpired, message); err != nil {
			w.log.Error("emitting expired event", "pharmacy_id", med.PharmacyID, "code", med.Code, "error", err)
		}
	}

	expiring, err := w.store.ListExpiring(ctx, now)
	if err != nil {
		return fmt.Errorf("listing expiring medications: %w", err)
	}
	alerted := 0
	for _, med := range expiring {
		recent, err := w.store.HasRecent(ctx, med.PharmacyID, med.Code, dedupWindow)
		if err != nil {
			w.log.Error("checking recent alerts", "pharmacy_id", med.PharmacyID, "code", med.Code, "error", err)
			continue
		}
		if recent {
			continue
		}
		message := fmt.Sprintf("Medication '%s' (code %s) expires in %d day(s), on %s.",
			med.Name, med.Code, med.DaysLeft, med.ExpiryDate.Format("2006-01-02"))
		if err := w.emitter.EmitEvent(ctx, med.PharmacyID, CategoryExpiringSoon, message); err != nil {
			w.log.Error("emitting expiring event", "pharmacy_id", med.PharmacyID, "code", med.Code, "error", err)
			continue
		}
		alerted++
	}

	w.log.Info("expiry sweep complete",
		"auto_expired", len(expired), "expiring_soon", len(expiring), "alerted", alerted)
	return nil
}

// HandlePurgeNotifications deletes read notifications older than retention.
func (w *Worker) HandlePurgeNotifications(ctx context.Context, _ *asynq.Task) error {
	deleted, err := w.store.Purge(ctx, w.retention)
	if err != nil {
		return fmt.Errorf("purging notifications: %w", err)
	}
	w.log.Info("old notifications purged", "deleted", deleted)
	return nil
}
