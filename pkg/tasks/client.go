package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// eventMaxRetry bounds redelivery of a notification event. Beyond this the
// event is dropped to the archive; live delivery is best-effort by design.
const eventMaxRetry = 5

// Client implements Emitter on an asynq queue.
type Client struct {
	client *asynq.Client
}

// NewClient creates an Emitter backed by the given Redis broker.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// EmitEvent enqueues a notify:event task carrying the notification.
func (c *Client) EmitEvent(ctx context.Context, pharmacyID int64, category, message string) error {
	payload, err := json.Marshal(EventPayload{
		PharmacyID: pharmacyID,
		Category:   category,
		Message:    message,
	})
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	task := asynq.NewTask(TypeNotifyEvent, payload)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(eventMaxRetry)); err != nil {
		return fmt.Errorf("enqueueing event: %w", err)
	}
	return nil
}

// RunTask enqueues a named maintenance task for immediate execution.
func (c *Client) RunTask(ctx context.Context, name string) error {
	taskType, err := taskTypeFor(name)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskType, nil)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.Timeout(5*time.Minute)); err != nil {
		return fmt.Errorf("enqueueing task %s: %w", name, err)
	}
	return nil
}

// Close releases the queue connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Verify interface compliance.
var _ Emitter = (*Client)(nil)
