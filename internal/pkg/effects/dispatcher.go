package effects

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
)

// Dispatcher hands commands to whatever executes them. One error per failed command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmds []Command) []error
}

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	EnqueueUniqueJob(ctx context.Context, jobType jobqueue.JobType, dedupeKey string, payload map[string]interface{}) (*jobqueue.Job, bool, error)
}

// QueueDispatcher turns commands into background jobs, deduplicated by idempotency key.
type QueueDispatcher struct {
	queue Enqueuer
}

func NewQueueDispatcher(queue Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, cmds []Command) []error {
	var errs []error
	for _, cmd := range cmds {
		jobType, payload, err := toJob(cmd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		job, created, err := d.queue.EnqueueUniqueJob(ctx, jobType, cmd.IdempotencyKey(), payload)
		if err != nil {
			log.Errorf("[Effects] Failed to enqueue %s (%s): %v", cmd.Kind(), cmd.IdempotencyKey(), err)
			errs = append(errs, fmt.Errorf("enqueue %s: %w", cmd.IdempotencyKey(), err))
			continue
		}
		if !created {
			log.Debugf("[Effects] %s already dispatched, skipping", cmd.IdempotencyKey())
			continue
		}
		log.Infof("[Effects] Enqueued %s job %s for %s", jobType, job.ID, cmd.IdempotencyKey())
	}
	return errs
}

func toJob(cmd Command) (jobqueue.JobType, map[string]interface{}, error) {
	switch c := cmd.(type) {
	case DecrementStock:
		return jobqueue.JobTypeDecrementStock, jobqueue.DecrementStockJobPayload{
			Key:       c.Key,
			VariantID: c.VariantID,
			Quantity:  c.Quantity,
		}.ToMap(), nil
	case SendEmail:
		return jobqueue.JobTypeSendEmail, jobqueue.SendEmailJobPayload{
			Key:       c.Key,
			Template:  c.Template,
			Recipient: c.Recipient,
			Data:      c.Data,
		}.ToMap(), nil
	default:
		return "", nil, fmt.Errorf("unsupported command %T", cmd)
	}
}
