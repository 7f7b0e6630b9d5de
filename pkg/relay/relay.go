// Package relay subscribes to the notification pub/sub channel and forwards
// each event to the connected session that owns it. Events for offline
// pharmacies are dropped here: the worker already persisted them, so the
// pharmacy catches up from its history at the next handshake.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pharmanotify/pharmanotify/pkg/directory"
	"github.com/pharmanotify/pharmanotify/pkg/protocol"
)

// Relay is the long-lived bus subscriber. One Relay runs per process, with
// one subscription held for the process lifetime.
type Relay struct {
	rdb     *redis.Client
	channel string
	dir     *directory.Directory
	log     *slog.Logger
}

// New creates a Relay over the given directory.
func New(rdb *redis.Client, channel string, dir *directory.Directory, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		rdb:     rdb,
		channel: channel,
		dir:     dir,
		log:     log.With("component", "relay"),
	}
}

// Run subscribes and forwards events until ctx is cancelled. One bad message
// never stops the loop; only subscription failure or cancellation ends it.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	// PubSub reads block on the socket and ignore ctx once in flight, so
	// cancellation is translated into a Close, which unblocks them.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-stop:
		}
	}()

	// The first frame after subscribing is the subscription ack.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.log.Info("subscribed to notification channel", "channel", r.channel)

	// Channel filters out pongs and subscription frames, delivering only
	// messages. It closes once the subscription does.
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			r.deliver(msg.Payload)
		}
	}
}

// deliver routes one raw event payload to its live session, if any.
func (r *Relay) deliver(payload string) {
	var event protocol.BusEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.log.Error("dropping malformed bus event", "error", err)
		return
	}

	entry := r.dir.LookupByID(event.PharmacyID)
	if entry == nil {
		r.log.Info("no live session for event; notification persisted only",
			"pharmacy_id", event.PharmacyID)
		return
	}

	if err := entry.Conn.Notify(event.Message); err != nil {
		// The session may be tearing down right now; its cleanup handles
		// the directory. Nothing to retry at this layer.
		r.log.Warn("delivering notification failed",
			"pharmacy_id", event.PharmacyID, "error", err)
		return
	}
	r.log.Info("notification delivered", "pharmacy_id", event.PharmacyID)
}
