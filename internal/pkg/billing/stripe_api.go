package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
)

// StripeAPI implements StripeLookups with the official SDK client. Objects are decoded
// from the raw response body into the local shapes.
type StripeAPI struct {
	client *stripe.Client
}

// NewStripeAPI creates a lookup client for the given secret key (sk_...).
func NewStripeAPI(secretKey string) (*StripeAPI, error) {
	key := strings.TrimSpace(secretKey)
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	return &StripeAPI{client: stripe.NewClient(key)}, nil
}

func (s *StripeAPI) Subscription(ctx context.Context, id string) (*StripeSubscription, error) {
	params := &stripe.SubscriptionRetrieveParams{}
	params.AddExpand("items.data.price.product")
	res, err := s.client.V1Subscriptions.Retrieve(ctx, id, params)
	if err != nil {
		return nil, wrapStripeError("retrieve subscription", id, err)
	}
	var out StripeSubscription
	if err := decodeResponse(res.LastResponse, "subscription", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *StripeAPI) Invoice(ctx context.Context, id string) (*StripeInvoice, error) {
	params := &stripe.InvoiceRetrieveParams{}
	params.AddExpand("payments")
	res, err := s.client.V1Invoices.Retrieve(ctx, id, params)
	if err != nil {
		return nil, wrapStripeError("retrieve invoice", id, err)
	}
	var out StripeInvoice
	if err := decodeResponse(res.LastResponse, "invoice", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *StripeAPI) PaymentIntent(ctx context.Context, id string) (*StripePaymentIntent, error) {
	params := &stripe.PaymentIntentRetrieveParams{}
	params.AddExpand("latest_charge")
	params.AddExpand("payment_method")
	res, err := s.client.V1PaymentIntents.Retrieve(ctx, id, params)
	if err != nil {
		return nil, wrapStripeError("retrieve payment intent", id, err)
	}
	var out StripePaymentIntent
	if err := decodeResponse(res.LastResponse, "payment intent", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *StripeAPI) Product(ctx context.Context, id string) (*StripeProduct, error) {
	res, err := s.client.V1Products.Retrieve(ctx, id, nil)
	if err != nil {
		return nil, wrapStripeError("retrieve product", id, err)
	}
	return &StripeProduct{ID: res.ID, Name: res.Name}, nil
}

func decodeResponse(resp *stripe.APIResponse, kind string, out interface{}) error {
	if resp == nil || len(resp.RawJSON) == 0 {
		return fmt.Errorf("stripe %s response has no body", kind)
	}
	return decodeObject(resp.RawJSON, kind, out)
}

func wrapStripeError(op, id string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("%s %s: not found: %w", op, id, err)
		}
		return fmt.Errorf("%s %s: stripe error (%s): %w", op, id, stripeErr.Type, err)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}
