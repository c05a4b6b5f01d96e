package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	StripeEventCheckoutSessionCompleted = "checkout.session.completed"
	StripeEventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	StripeEventInvoicePaid              = "invoice.paid"
	StripeEventSubscriptionCreated      = "customer.subscription.created"
	StripeEventSubscriptionUpdated      = "customer.subscription.updated"
	StripeEventSubscriptionDeleted      = "customer.subscription.deleted"
	StripeEventCustomerUpdated          = "customer.updated"
)

// StripeProcessor wires the verifier and adapter behind the Processor contract.
type StripeProcessor struct {
	verifier *StripeVerifier
	adapter  *StripeAdapter
	now      func() time.Time
}

func NewStripeProcessor(verifier *StripeVerifier, adapter *StripeAdapter) *StripeProcessor {
	return &StripeProcessor{verifier: verifier, adapter: adapter, now: time.Now}
}

func (p *StripeProcessor) Name() string { return ProcessorStripe }

func (p *StripeProcessor) SignatureHeader() string { return "Stripe-Signature" }

func (p *StripeProcessor) Verify(payload []byte, signatureHeader string) (*VerifiedEvent, error) {
	return p.verifier.Verify(payload, signatureHeader)
}

// Normalize routes a verified event to the matching adapter function.
func (p *StripeProcessor) Normalize(ctx context.Context, event *VerifiedEvent) (*NormalizedEvent, error) {
	switch event.Type {
	case StripeEventCheckoutSessionCompleted:
		return p.normalizeCheckout(ctx, event)
	case StripeEventInvoicePaymentSucceeded, StripeEventInvoicePaid:
		return p.normalizeInvoice(ctx, event)
	case StripeEventSubscriptionCreated, StripeEventSubscriptionUpdated:
		var sub StripeSubscription
		if err := decodeObject(event.Data, "subscription", &sub); err != nil {
			return nil, err
		}
		snapshot, err := p.adapter.NormalizeSubscription(ctx, &sub, nil)
		if err != nil {
			return nil, err
		}
		snapshot.ObservedAt = event.Created
		return &NormalizedEvent{Kind: EventKindSubscriptionUpdated, Subscription: snapshot}, nil
	case StripeEventSubscriptionDeleted:
		var sub StripeSubscription
		if err := decodeObject(event.Data, "subscription", &sub); err != nil {
			return nil, err
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: deleted subscription without id", ErrInvalidPayload)
		}
		return &NormalizedEvent{Kind: EventKindSubscriptionDeleted, DeletedSubscriptionID: sub.ID}, nil
	case StripeEventCustomerUpdated:
		var c StripeCustomer
		if err := decodeObject(event.Data, "customer", &c); err != nil {
			return nil, err
		}
		update, err := p.adapter.NormalizeCustomerUpdate(&c)
		if err != nil {
			return nil, err
		}
		return &NormalizedEvent{Kind: EventKindCustomerUpdated, Customer: update}, nil
	default:
		log.Debugf("[Billing] Ignoring Stripe event %s (%s)", event.ID, event.Type)
		return &NormalizedEvent{Kind: EventKindIgnored}, nil
	}
}

func (p *StripeProcessor) normalizeCheckout(ctx context.Context, event *VerifiedEvent) (*NormalizedEvent, error) {
	var session StripeCheckoutSession
	if err := decodeObject(event.Data, "checkout session", &session); err != nil {
		return nil, err
	}
	checkout, err := p.adapter.NormalizeCheckoutSession(ctx, &session)
	if err != nil {
		return nil, err
	}
	out := &NormalizedEvent{Kind: EventKindCheckout, Checkout: checkout}

	if checkout.Mode != "subscription" || checkout.SubscriptionID == "" || !checkout.Paid {
		return out, nil
	}

	// Payment for a new subscription may still be pending; the invoice event creates it then.
	sub, err := p.adapter.FetchSubscription(ctx, checkout.SubscriptionID)
	if err != nil {
		log.Warnf("[Billing] Subscription %s lookup failed during checkout %s: %v", checkout.SubscriptionID, checkout.SessionID, err)
		return out, nil
	}
	if sub.Status != "active" && sub.Status != "trialing" {
		log.Infof("[Billing] Subscription %s is %s, deferring to invoice payment", sub.ID, sub.Status)
		return out, nil
	}

	snapshot, err := p.adapter.NormalizeSubscription(ctx, sub, &SubscriptionOverrides{
		ShippingAddress: checkout.ShippingAddress,
		ShippingName:    checkout.ShippingName,
		CustomerPhone:   checkout.Customer.Phone,
	})
	if err != nil {
		return nil, err
	}
	snapshot.ObservedAt = p.now().UTC()
	out.Subscription = snapshot
	return out, nil
}

func (p *StripeProcessor) normalizeInvoice(ctx context.Context, event *VerifiedEvent) (*NormalizedEvent, error) {
	var inv StripeInvoice
	if err := decodeObject(event.Data, "invoice", &inv); err != nil {
		return nil, err
	}
	payment, err := p.adapter.NormalizeInvoicePayment(ctx, &inv)
	if err != nil {
		return nil, err
	}
	if payment.SubscriptionID == "" {
		log.Infof("[Billing] Invoice %s has no subscription, nothing to reconcile", inv.ID)
		return &NormalizedEvent{Kind: EventKindIgnored}, nil
	}

	sub, err := p.adapter.FetchSubscription(ctx, payment.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s for invoice %s: %v", ErrLookupFailed, payment.SubscriptionID, inv.ID, err)
	}
	snapshot, err := p.adapter.NormalizeSubscription(ctx, sub, nil)
	if err != nil {
		return nil, err
	}
	snapshot.ObservedAt = p.now().UTC()
	return &NormalizedEvent{Kind: EventKindInvoicePayment, Invoice: payment, Subscription: snapshot}, nil
}
