package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
)

// maxWriteAttempts bounds compare-and-set retries on one subscription row.
const maxWriteAttempts = 3

type ApplyOptions struct {
	// AllowCreate permits inserting a new row for an ACTIVE snapshot.
	AllowCreate bool
	// PreserveShipping keeps the stored ship-to when the snapshot carries none.
	PreserveShipping bool
}

type SnapshotAction string

const (
	SnapshotCreated SnapshotAction = "created"
	SnapshotUpdated SnapshotAction = "updated"
	SnapshotMerged  SnapshotAction = "merged"
	SnapshotSkipped SnapshotAction = "skipped"
)

// SnapshotResult reports how a snapshot was applied. Subscription is nil when skipped
// without a matching row.
type SnapshotResult struct {
	Action       SnapshotAction
	Subscription *models.Subscription
}

// ApplySubscriptionSnapshot converges the local subscription row to snap. userID enables
// the (user, product) merge lookup and is required for inserts.
func (e *Engine) ApplySubscriptionSnapshot(ctx context.Context, userID *uint, snap *billing.NormalizedSubscriptionData, opts ApplyOptions) (*SnapshotResult, error) {
	if err := e.checkSnapshot(snap); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		res, err := e.applySnapshotOnce(ctx, userID, snap, opts)
		if errors.Is(err, ErrVersionConflict) {
			log.Warnf("[Reconcile] Subscription %s: version conflict (attempt %d/%d)", snap.ProcessorSubscriptionID, attempt, maxWriteAttempts)
			continue
		}
		return res, err
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, snap.ProcessorSubscriptionID)
}

// ApplySubscriptionUpdate applies a snapshot from a subscription lifecycle event. It never
// creates rows and never merges; stored shipping survives a snapshot without one.
func (e *Engine) ApplySubscriptionUpdate(ctx context.Context, snap *billing.NormalizedSubscriptionData) (*Outcome, error) {
	res, err := e.ApplySubscriptionSnapshot(ctx, nil, snap, ApplyOptions{PreserveShipping: true})
	if err != nil {
		return nil, err
	}
	if res.Action == SnapshotSkipped && res.Subscription == nil {
		log.Infof("[Reconcile] Subscription %s is not stored locally, update ignored", snap.ProcessorSubscriptionID)
	}
	return &Outcome{Subscription: res}, nil
}

// ApplySubscriptionDeleted moves the subscription to CANCELED.
func (e *Engine) ApplySubscriptionDeleted(ctx context.Context, processor, processorSubscriptionID string) (*Outcome, error) {
	if processor == "" || processorSubscriptionID == "" {
		return nil, fmt.Errorf("%w: deleted subscription id is empty", ErrInvalidEvent)
	}
	now := e.now().UTC()
	res, err := e.mutateSubscription(ctx, processor, processorSubscriptionID, func(row *models.Subscription) bool {
		if row.IsCanceled() {
			return false
		}
		row.Status = models.SubscriptionStatusCanceled
		row.CanceledAt = &now
		row.PausedUntil = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	if res.Action == SnapshotUpdated {
		log.Infof("[Reconcile] Subscription %s canceled", processorSubscriptionID)
	}
	return &Outcome{Subscription: res}, nil
}

func (e *Engine) checkSnapshot(snap *billing.NormalizedSubscriptionData) error {
	if snap == nil {
		return fmt.Errorf("%w: subscription snapshot is nil", ErrInvalidEvent)
	}
	if err := e.check(snap); err != nil {
		return err
	}
	if !snap.CurrentPeriodStart.Before(snap.CurrentPeriodEnd) {
		return fmt.Errorf("%w: subscription %s period %s .. %s", ErrInvalidPeriod, snap.ProcessorSubscriptionID,
			snap.CurrentPeriodStart.Format(time.RFC3339), snap.CurrentPeriodEnd.Format(time.RFC3339))
	}
	return nil
}

func (e *Engine) applySnapshotOnce(ctx context.Context, userID *uint, snap *billing.NormalizedSubscriptionData, opts ApplyOptions) (*SnapshotResult, error) {
	action := SnapshotUpdated
	row, err := e.repo.FindSubscriptionByProcessorID(ctx, snap.Processor, snap.ProcessorSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("find subscription %s: %w", snap.ProcessorSubscriptionID, err)
	}

	if row == nil && userID != nil {
		row, err = e.repo.FindActiveSubscriptionByUserAndProduct(ctx, *userID, snap.PrimaryProductID())
		if err != nil {
			return nil, fmt.Errorf("find subscription for user %d product %s: %w", *userID, snap.PrimaryProductID(), err)
		}
		if row != nil && row.ProcessorSubscriptionID != snap.ProcessorSubscriptionID {
			log.Infof("[Reconcile] User %d re-subscribed to %s: replacing %s with %s",
				*userID, snap.PrimaryProductID(), row.ProcessorSubscriptionID, snap.ProcessorSubscriptionID)
			action = SnapshotMerged
		}
	}

	if row != nil && action != SnapshotMerged && isStale(row, snap) {
		log.Infof("[Reconcile] Subscription %s: snapshot from %s is older than applied %s, skipping",
			snap.ProcessorSubscriptionID, snap.ObservedAt.Format(time.RFC3339), row.LastEventAt.Format(time.RFC3339))
		return &SnapshotResult{Action: SnapshotSkipped, Subscription: row}, nil
	}

	if row == nil {
		if !opts.AllowCreate || userID == nil || snap.Status != billing.StatusActive {
			return &SnapshotResult{Action: SnapshotSkipped}, nil
		}
		row = &models.Subscription{UserID: *userID, Processor: snap.Processor}
		action = SnapshotCreated
	}

	if row.IsCanceled() && snap.Status != billing.StatusCanceled {
		log.Warnf("[Reconcile] Subscription %s is canceled, ignoring %s snapshot", row.ProcessorSubscriptionID, snap.Status)
		return &SnapshotResult{Action: SnapshotSkipped, Subscription: row}, nil
	}

	applySnapshot(row, snap, opts.PreserveShipping)
	if err := e.repo.UpsertSubscription(ctx, row); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("save subscription %s: %w", snap.ProcessorSubscriptionID, err)
	}
	return &SnapshotResult{Action: action, Subscription: row}, nil
}

// isStale reports whether snap predates the newest snapshot already stored on row.
func isStale(row *models.Subscription, snap *billing.NormalizedSubscriptionData) bool {
	if row.LastEventAt == nil || snap.ObservedAt.IsZero() {
		return false
	}
	return snap.ObservedAt.Before(*row.LastEventAt)
}

// mutateSubscription loads a row by processor id and saves fn's changes with
// compare-and-set. fn returns false to leave the row untouched.
func (e *Engine) mutateSubscription(ctx context.Context, processor, id string, fn func(*models.Subscription) bool) (*SnapshotResult, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		row, err := e.repo.FindSubscriptionByProcessorID(ctx, processor, id)
		if err != nil {
			return nil, fmt.Errorf("find subscription %s: %w", id, err)
		}
		if row == nil {
			return &SnapshotResult{Action: SnapshotSkipped}, nil
		}
		if !fn(row) {
			return &SnapshotResult{Action: SnapshotSkipped, Subscription: row}, nil
		}
		err = e.repo.UpsertSubscription(ctx, row)
		if errors.Is(err, ErrVersionConflict) {
			log.Warnf("[Reconcile] Subscription %s: version conflict (attempt %d/%d)", id, attempt, maxWriteAttempts)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save subscription %s: %w", id, err)
		}
		return &SnapshotResult{Action: SnapshotUpdated, Subscription: row}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
}

// applySnapshot overwrites every mutable field. ID, UserID, CreatedAt and Version stay.
// LastEventAt only moves when the snapshot carries a time.
func applySnapshot(row *models.Subscription, snap *billing.NormalizedSubscriptionData, preserveShipping bool) {
	row.Processor = snap.Processor
	row.ProcessorSubscriptionID = snap.ProcessorSubscriptionID
	if snap.ProcessorCustomerID != "" {
		row.ProcessorCustomerID = snap.ProcessorCustomerID
	}
	row.ProductID = snap.PrimaryProductID()
	row.Status = snap.Status
	row.PriceInCents = snap.TotalPriceInCents
	row.DeliverySchedule = snap.DeliverySchedule
	row.CurrentPeriodStart = snap.CurrentPeriodStart.UTC()
	row.CurrentPeriodEnd = snap.CurrentPeriodEnd.UTC()
	row.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	row.CanceledAt = utcPtr(snap.CanceledAt)
	if !snap.ObservedAt.IsZero() {
		observed := snap.ObservedAt.UTC()
		row.LastEventAt = &observed
	}
	row.PausedUntil = nil
	if snap.Status == billing.StatusPaused {
		row.PausedUntil = utcPtr(snap.PausedUntil)
	}

	lines := make([]models.SubscriptionLine, 0, len(snap.Items))
	for _, item := range snap.Items {
		lines = append(lines, models.SubscriptionLine{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			PriceID:      item.PriceID,
			Quantity:     item.Quantity,
			PriceInCents: item.PriceInCents,
		})
	}
	row.Items = datatypes.NewJSONType(lines)

	switch {
	case snap.ShippingAddress != nil:
		setSubscriptionShipping(row, snap.ShippingAddress, snap.ShippingName)
	case !preserveShipping:
		setSubscriptionShipping(row, &billing.Address{}, snap.ShippingName)
	}
	if snap.CustomerPhone != "" {
		row.RecipientPhone = snap.CustomerPhone
	}
}

func setSubscriptionShipping(row *models.Subscription, addr *billing.Address, name string) {
	row.RecipientName = name
	row.ShippingStreet = addr.Street()
	row.ShippingCity = addr.City
	row.ShippingState = addr.State
	row.ShippingPostalCode = addr.PostalCode
	row.ShippingCountry = addr.Country
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
