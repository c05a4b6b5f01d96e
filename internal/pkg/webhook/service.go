package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/effects"
	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
	metrics "github.com/ManuelReschke/PayHook/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
)

// ErrUnknownProcessor is returned for a processor name nothing is registered under.
var ErrUnknownProcessor = errors.New("unknown payment processor")

// EventLog is the webhook event store used for deduplication.
type EventLog interface {
	Record(ctx context.Context, ev *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

// ArchiveEnqueuer schedules raw payload archiving.
type ArchiveEnqueuer interface {
	EnqueueUniqueJob(ctx context.Context, jobType jobqueue.JobType, dedupeKey string, payload map[string]interface{}) (*jobqueue.Job, bool, error)
}

// Result describes how a delivery was handled.
type Result struct {
	Outcome   string   `json:"outcome"`
	EventID   string   `json:"event_id,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	OrderID   string   `json:"order_id,omitempty"`
	Commands  int      `json:"commands"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Service runs one webhook delivery through verify, record, normalize, reconcile and
// dispatch.
type Service struct {
	processors map[string]billing.Processor
	events     EventLog
	engine     *reconcile.Engine
	dispatcher effects.Dispatcher
	archive    ArchiveEnqueuer
	count      func(processor, outcome string) error
}

func NewService(events EventLog, engine *reconcile.Engine, dispatcher effects.Dispatcher, processors ...billing.Processor) *Service {
	s := &Service{
		processors: make(map[string]billing.Processor, len(processors)),
		events:     events,
		engine:     engine,
		dispatcher: dispatcher,
	}
	for _, p := range processors {
		s.processors[p.Name()] = p
	}
	return s
}

// WithArchive enables payload archiving for newly recorded events.
func (s *Service) WithArchive(q ArchiveEnqueuer) *Service {
	s.archive = q
	return s
}

// WithOutcomeCounter sets the function that tallies outcomes, e.g. metrics.AddWebhookOutcome.
func (s *Service) WithOutcomeCounter(fn func(processor, outcome string) error) *Service {
	s.count = fn
	return s
}

// Processor returns the processor registered under name.
func (s *Service) Processor(name string) (billing.Processor, bool) {
	p, ok := s.processors[name]
	return p, ok
}

// Handle processes one raw delivery. On error the returned Result is still populated
// with whatever was decided, and StatusFor(err) gives the HTTP status.
func (s *Service) Handle(ctx context.Context, processorName string, payload []byte, signature string) (*Result, error) {
	p, ok := s.processors[processorName]
	if !ok {
		return &Result{Outcome: metrics.OutcomeRejected}, fmt.Errorf("%w: %s", ErrUnknownProcessor, processorName)
	}

	ev, err := p.Verify(payload, signature)
	if err != nil {
		return s.finish(processorName, &Result{}, err)
	}
	res := &Result{EventID: ev.ID, EventType: ev.Type}

	stored, created, err := s.events.Record(ctx, &models.WebhookEvent{
		Processor: ev.Processor,
		EventID:   ev.ID,
		EventType: ev.Type,
		Payload:   datatypes.JSON(payload),
	})
	if err != nil {
		return s.finish(processorName, res, fmt.Errorf("record webhook event %s: %w", ev.ID, err))
	}
	if !created && stored.Succeeded() {
		log.Infof("[Webhook] Event %s (%s) already processed, attempt %d", ev.ID, ev.Type, stored.Attempts)
		res.Outcome = metrics.OutcomeDuplicate
		return s.finish(processorName, res, nil)
	}
	if created {
		s.enqueueArchive(ctx, stored)
	}

	norm, err := p.Normalize(ctx, ev)
	if err == nil {
		err = s.apply(ctx, p.Name(), norm, res)
	}

	processingError := ""
	if err != nil {
		processingError = err.Error()
	}
	if merr := s.events.MarkProcessed(ctx, stored.ID, processingError); merr != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", ev.ID, merr)
		if err == nil {
			err = fmt.Errorf("mark webhook event %s processed: %w", ev.ID, merr)
		}
	}
	return s.finish(processorName, res, err)
}

func (s *Service) apply(ctx context.Context, processor string, norm *billing.NormalizedEvent, res *Result) error {
	var out *reconcile.Outcome
	var err error

	switch norm.Kind {
	case billing.EventKindCheckout:
		out, err = s.engine.ApplyCheckout(ctx, norm.Checkout, norm.Subscription)
	case billing.EventKindInvoicePayment:
		out, err = s.engine.ApplyInvoicePayment(ctx, norm.Invoice, norm.Subscription)
	case billing.EventKindSubscriptionUpdated:
		out, err = s.engine.ApplySubscriptionUpdate(ctx, norm.Subscription)
	case billing.EventKindSubscriptionDeleted:
		out, err = s.engine.ApplySubscriptionDeleted(ctx, processor, norm.DeletedSubscriptionID)
	case billing.EventKindCustomerUpdated:
		out, err = s.engine.ApplyCustomerUpdate(ctx, norm.Customer)
	default:
		res.Outcome = metrics.OutcomeIgnored
		return nil
	}

	// An order may have committed before a later step failed; its effects still go out.
	if out != nil {
		res.Warnings = append(res.Warnings, out.Warnings...)
		if out.Order != nil {
			res.OrderID = out.Order.PublicID
		}
		if len(out.Commands) > 0 && s.dispatcher != nil {
			res.Commands = len(out.Commands)
			for _, derr := range s.dispatcher.Dispatch(ctx, out.Commands) {
				res.Warnings = append(res.Warnings, derr.Error())
			}
		}
		if out.Duplicate {
			res.Outcome = metrics.OutcomeDuplicate
		}
	}
	if err != nil {
		return err
	}
	if res.Outcome == "" {
		res.Outcome = metrics.OutcomeAccepted
	}
	return nil
}

func (s *Service) enqueueArchive(ctx context.Context, ev *models.WebhookEvent) {
	if s.archive == nil {
		return
	}
	payload := jobqueue.ArchiveWebhookJobPayload{WebhookEventID: ev.ID, Processor: ev.Processor, EventID: ev.EventID}
	key := fmt.Sprintf("archive:%s:%s", ev.Processor, ev.EventID)
	if _, _, err := s.archive.EnqueueUniqueJob(ctx, jobqueue.JobTypeArchiveWebhook, key, payload.ToMap()); err != nil {
		log.Warnf("[Webhook] Failed to enqueue archive job for %s: %v", ev.EventID, err)
	}
}

// finish settles the outcome for err and tallies it.
func (s *Service) finish(processor string, res *Result, err error) (*Result, error) {
	if err != nil {
		if StatusFor(err) == http.StatusBadRequest {
			res.Outcome = metrics.OutcomeRejected
		} else {
			res.Outcome = metrics.OutcomeFailed
		}
		if billing.IsAuthError(err) {
			log.Warnf("[Webhook] %s delivery rejected: %v", processor, err)
		} else {
			log.Errorf("[Webhook] %s event %s failed: %v", processor, res.EventID, err)
		}
	}
	if s.count != nil && res.Outcome != "" {
		if cerr := s.count(processor, res.Outcome); cerr != nil {
			log.Debugf("[Webhook] Outcome counter unavailable: %v", cerr)
		}
	}
	return res, err
}

// StatusFor maps a Handle error to the HTTP status returned to the processor. Non-2xx
// answers make the processor redeliver.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnknownProcessor):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrMisconfiguredSecret):
		return http.StatusInternalServerError
	case errors.Is(err, billing.ErrMissingSignature),
		errors.Is(err, billing.ErrInvalidSignature),
		errors.Is(err, billing.ErrInvalidPayload),
		reconcile.IsTerminal(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
