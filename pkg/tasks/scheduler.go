package tasks

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// purgeSchedule runs the notification purge daily at 03:00.
const purgeSchedule = "0 3 * * *"

// NewScheduler builds the periodic schedule: the expiry sweep every
// checkInterval and the notification purge once a day.
func NewScheduler(opt asynq.RedisClientOpt, checkInterval time.Duration) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})

	every := fmt.Sprintf("@every %s", checkInterval)
	if _, err := scheduler.Register(every, asynq.NewTask(TypeCheckExpirations, nil)); err != nil {
		return nil, fmt.Errorf("registering expiry sweep: %w", err)
	}
	if _, err := scheduler.Register(purgeSchedule, asynq.NewTask(TypePurgeNotifications, nil)); err != nil {
		return nil, fmt.Errorf("registering notification purge: %w", err)
	}
	return scheduler, nil
}
