package archive

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
)

// PayloadStore is where archived payloads go.
type PayloadStore interface {
	PutPayload(ctx context.Context, objectKey string, body []byte, metadata map[string]string) error
}

// EventStore loads recorded webhook events and marks them archived.
type EventStore interface {
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkArchived(ctx context.Context, id uint, objectKey string) error
}

// Archiver copies recorded webhook payloads to object storage.
type Archiver struct {
	store  PayloadStore
	events EventStore
}

func NewArchiver(store PayloadStore, events EventStore) *Archiver {
	return &Archiver{store: store, events: events}
}

// Archive uploads one event's payload. Already archived events are left alone.
func (a *Archiver) Archive(ctx context.Context, eventID uint) error {
	ev, err := a.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load webhook event %d: %w", eventID, err)
	}
	if ev == nil {
		return fmt.Errorf("%w: webhook event %d not found", jobqueue.ErrPermanent, eventID)
	}
	if ev.ArchivedAt != nil {
		log.Debugf("[Archive] Event %s already archived at %s", ev.EventID, ev.ArchiveKey)
		return nil
	}
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: webhook event %d has no payload", jobqueue.ErrPermanent, eventID)
	}

	key := ObjectKey(ev.Processor, ev.EventID, ev.CreatedAt)
	meta := map[string]string{
		"processor":  ev.Processor,
		"event-type": ev.EventType,
	}
	if err := a.store.PutPayload(ctx, key, ev.Payload, meta); err != nil {
		return err
	}
	return a.events.MarkArchived(ctx, ev.ID, key)
}

// Register installs the archive job handler on the queue.
func (a *Archiver) Register(q *jobqueue.Queue) {
	q.RegisterHandler(jobqueue.JobTypeArchiveWebhook, func(ctx context.Context, job *jobqueue.Job) error {
		p, err := jobqueue.ArchiveWebhookJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", jobqueue.ErrPermanent, err)
		}
		if p.WebhookEventID == 0 {
			return fmt.Errorf("%w: archive job without webhook event id", jobqueue.ErrPermanent)
		}
		return a.Archive(ctx, p.WebhookEventID)
	})
}
