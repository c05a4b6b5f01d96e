package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookups struct {
	subscriptions  map[string]*StripeSubscription
	invoices       map[string]*StripeInvoice
	paymentIntents map[string]*StripePaymentIntent
	products       map[string]*StripeProduct
	calls          []string
}

var errNotFound = errors.New("not found")

func (f *fakeLookups) Subscription(_ context.Context, id string) (*StripeSubscription, error) {
	f.calls = append(f.calls, "subscription:"+id)
	if s, ok := f.subscriptions[id]; ok {
		return s, nil
	}
	return nil, errNotFound
}

func (f *fakeLookups) Invoice(_ context.Context, id string) (*StripeInvoice, error) {
	f.calls = append(f.calls, "invoice:"+id)
	if inv, ok := f.invoices[id]; ok {
		return inv, nil
	}
	return nil, errNotFound
}

func (f *fakeLookups) PaymentIntent(_ context.Context, id string) (*StripePaymentIntent, error) {
	f.calls = append(f.calls, "payment_intent:"+id)
	if pi, ok := f.paymentIntents[id]; ok {
		return pi, nil
	}
	return nil, errNotFound
}

func (f *fakeLookups) Product(_ context.Context, id string) (*StripeProduct, error) {
	f.calls = append(f.calls, "product:"+id)
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, errNotFound
}

func TestMapStripeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		status string
		paused bool
		want   string
	}{
		{status: "active", want: StatusActive},
		{status: "trialing", want: StatusActive},
		{status: "incomplete", want: StatusActive},
		{status: "past_due", want: StatusPastDue},
		{status: "unpaid", want: StatusPastDue},
		{status: "paused", want: StatusPaused},
		{status: "active", paused: true, want: StatusPaused},
		{status: "past_due", paused: true, want: StatusPaused},
		{status: "canceled", want: StatusCanceled},
		{status: "canceled", paused: true, want: StatusCanceled},
		{status: "incomplete_expired", want: StatusCanceled},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStripeSubscriptionStatus(tt.status, tt.paused), "%s paused=%v", tt.status, tt.paused)
	}
}

func TestFormatBillingInterval(t *testing.T) {
	assert.Equal(t, "Every week", FormatBillingInterval("week", 1))
	assert.Equal(t, "Every week", FormatBillingInterval("week", 0))
	assert.Equal(t, "Every 2 weeks", FormatBillingInterval("week", 2))
	assert.Equal(t, "Every 3 months", FormatBillingInterval("Month", 3))
	assert.Equal(t, "", FormatBillingInterval("", 2))
}

func TestFormatCardLabel(t *testing.T) {
	assert.Equal(t, "Visa ****4242", FormatCardLabel(&StripeCard{Brand: "visa", Last4: "4242"}))
	assert.Equal(t, "****4242", FormatCardLabel(&StripeCard{Last4: "4242"}))
	assert.Equal(t, "", FormatCardLabel(&StripeCard{Brand: "visa"}))
	assert.Equal(t, "", FormatCardLabel(nil))
}

func TestDeliverySchedulePrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "metadata override", raw: `{"metadata":{"deliverySchedule":"Every other Friday"},"items":{"data":[{"price":{"nickname":"Every 2 weeks - House","recurring":{"interval":"month","interval_count":1}}}]}}`, want: "Every other Friday"},
		{name: "nickname", raw: `{"items":{"data":[{"price":{"nickname":"House Blend (Every 2 weeks)","recurring":{"interval":"month","interval_count":1}}}]}}`, want: "Every 2 weeks"},
		{name: "recurring interval", raw: `{"items":{"data":[{"price":{"nickname":"House Blend","recurring":{"interval":"week","interval_count":4}}}]}}`, want: "Every 4 weeks"},
		{name: "no items", raw: `{}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sub StripeSubscription
			mustDecode(t, tt.raw, &sub)
			assert.Equal(t, tt.want, deliverySchedule(&sub))
		})
	}
}

func TestNormalizeSubscription(t *testing.T) {
	lookups := &fakeLookups{products: map[string]*StripeProduct{"prod_decaf": {ID: "prod_decaf", Name: "Decaf"}}}
	adapter := NewStripeAdapter(lookups, time.Second)

	var sub StripeSubscription
	mustDecode(t, `{
		"id": "sub_1",
		"status": "active",
		"customer": "cus_1",
		"cancel_at": 1775000000,
		"metadata": {"shipping_address": "{\"name\":\"Jane Doe\",\"line1\":\"1 Roast Lane\",\"city\":\"Portland\",\"postal_code\":\"97201\",\"country\":\"US\"}"},
		"items": {"data": [
			{"quantity": 2, "current_period_start": 1772000000, "current_period_end": 1774000000,
			 "price": {"id": "price_house", "unit_amount": 1500, "product": {"id": "prod_house", "name": "House Blend"}, "recurring": {"interval": "week", "interval_count": 2}}},
			{"quantity": 0,
			 "price": {"id": "price_decaf", "unit_amount": 900, "product": "prod_decaf"}},
			{"quantity": 1,
			 "price": {"id": "price_gone", "unit_amount": 100, "product": "prod_gone"}}
		]}
	}`, &sub)

	snap, err := adapter.NormalizeSubscription(context.Background(), &sub, nil)
	require.NoError(t, err)
	assert.Equal(t, ProcessorStripe, snap.Processor)
	assert.Equal(t, "cus_1", snap.ProcessorCustomerID)
	assert.Equal(t, StatusActive, snap.Status)
	assert.True(t, snap.CancelAtPeriodEnd)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, "House Blend", snap.Items[0].ProductName)
	assert.Equal(t, "Decaf", snap.Items[1].ProductName)
	assert.Equal(t, 1, snap.Items[1].Quantity)
	assert.Equal(t, PlaceholderProductName, snap.Items[2].ProductName)
	assert.Equal(t, int64(1500*2+900+100), snap.TotalPriceInCents)
	assert.Equal(t, time.Unix(1772000000, 0).UTC(), snap.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1774000000, 0).UTC(), snap.CurrentPeriodEnd)
	assert.Equal(t, "Every 2 weeks", snap.DeliverySchedule)
	require.NotNil(t, snap.ShippingAddress)
	assert.Equal(t, "1 Roast Lane", snap.ShippingAddress.Line1)
	assert.Nil(t, snap.CanceledAt)

	override := &Address{Line1: "9 Bean Street", City: "Seattle", PostalCode: "98101", Country: "US"}
	snap, err = adapter.NormalizeSubscription(context.Background(), &sub, &SubscriptionOverrides{ShippingAddress: override, ShippingName: "J. Doe", CustomerPhone: "+1"})
	require.NoError(t, err)
	assert.Equal(t, override, snap.ShippingAddress)
	assert.Equal(t, "J. Doe", snap.ShippingName)
	assert.Equal(t, "+1", snap.CustomerPhone)
}

func TestNormalizeSubscription_CanceledAndPaused(t *testing.T) {
	adapter := NewStripeAdapter(nil, time.Second)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	var canceled StripeSubscription
	mustDecode(t, `{"id":"sub_c","status":"canceled"}`, &canceled)
	snap, err := adapter.NormalizeSubscription(context.Background(), &canceled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, snap.Status)
	require.NotNil(t, snap.CanceledAt)
	assert.Equal(t, now, *snap.CanceledAt)

	var paused StripeSubscription
	mustDecode(t, `{"id":"sub_p","status":"active","pause_collection":{"behavior":"void","resumes_at":1775000000}}`, &paused)
	snap, err = adapter.NormalizeSubscription(context.Background(), &paused, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, snap.Status)
	require.NotNil(t, snap.PausedUntil)
	assert.Equal(t, time.Unix(1775000000, 0).UTC(), *snap.PausedUntil)

	_, err = adapter.NormalizeSubscription(context.Background(), &StripeSubscription{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNormalizeCheckoutSession_PaymentInfo(t *testing.T) {
	tests := []struct {
		name       string
		intent     string
		lookups    *fakeLookups
		wantCard   string
		wantCharge string
		wantMethod string
	}{
		{
			name:       "expanded charge",
			intent:     `{"id":"pi_1","latest_charge":{"id":"ch_1","payment_method_details":{"card":{"brand":"visa","last4":"4242"}}}}`,
			wantCard:   "Visa ****4242",
			wantCharge: "ch_1",
			wantMethod: PaymentMethodCard,
		},
		{
			name:   "bare id fetched",
			intent: `"pi_2"`,
			lookups: &fakeLookups{paymentIntents: map[string]*StripePaymentIntent{
				"pi_2": mustPaymentIntent(t, `{"id":"pi_2","latest_charge":"ch_2","payment_method":{"id":"pm_2","card":{"brand":"mastercard","last4":"4444"}}}`),
			}},
			wantCard:   "Mastercard ****4444",
			wantCharge: "ch_2",
			wantMethod: PaymentMethodCard,
		},
		{
			name:       "lookup failure degrades",
			intent:     `"pi_3"`,
			lookups:    &fakeLookups{},
			wantMethod: PaymentMethodOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var lookups StripeLookups
			if tt.lookups != nil {
				lookups = tt.lookups
			}
			adapter := NewStripeAdapter(lookups, time.Second)

			var session StripeCheckoutSession
			mustDecode(t, `{"id":"cs_1","mode":"payment","payment_status":"paid","amount_total":4200,
				"customer":"cus_1","customer_email":"jane@example.com",
				"metadata":{"cartItems":"[{\"po\":\"po_beans\",\"qty\":1}]","deliveryMethod":"pickup"},
				"total_details":{"amount_discount":300},
				"payment_intent":`+tt.intent+`}`, &session)

			ev, err := adapter.NormalizeCheckoutSession(context.Background(), &session)
			require.NoError(t, err)
			assert.True(t, ev.Paid)
			assert.Equal(t, "jane@example.com", ev.Customer.Email)
			assert.Equal(t, "cus_1", ev.Customer.ProcessorCustomerID)
			assert.Equal(t, DeliveryMethodPickup, ev.DeliveryMethod)
			assert.Nil(t, ev.ShippingAddress)
			assert.Equal(t, int64(300), ev.DiscountInCents)
			assert.Len(t, ev.Items, 1)
			assert.Equal(t, tt.wantCard, ev.PaymentInfo.CardLast4)
			assert.Equal(t, tt.wantCharge, ev.PaymentInfo.ChargeID)
			assert.Equal(t, tt.wantMethod, ev.PaymentInfo.PaymentMethod)
		})
	}
}

func TestNormalizeInvoicePayment(t *testing.T) {
	lookups := &fakeLookups{paymentIntents: map[string]*StripePaymentIntent{
		"pi_inv": mustPaymentIntent(t, `{"id":"pi_inv","latest_charge":{"id":"ch_inv","payment_method_details":{"card":{"brand":"amex","last4":"0005"}}}}`),
	}}
	adapter := NewStripeAdapter(lookups, time.Second)

	var inv StripeInvoice
	mustDecode(t, `{"id":"in_1","billing_reason":"subscription_cycle","customer":"cus_1","customer_email":" jane@example.com ",
		"total":3000,"subtotal":3000,
		"parent":{"subscription_details":{"subscription":"sub_1"}},
		"payments":{"data":[{"payment":{"type":"payment_intent","payment_intent":"pi_inv"}}]}}`, &inv)

	ev, err := adapter.NormalizeInvoicePayment(context.Background(), &inv)
	require.NoError(t, err)
	assert.True(t, ev.IsRenewal)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "jane@example.com", ev.CustomerEmail)
	assert.Equal(t, "in_1", ev.PaymentInfo.InvoiceID)
	assert.Equal(t, "pi_inv", ev.PaymentInfo.TransactionID)
	assert.Equal(t, "ch_inv", ev.PaymentInfo.ChargeID)
	assert.Equal(t, "Amex ****0005", ev.PaymentInfo.CardLast4)
	assert.Equal(t, []string{"payment_intent:pi_inv"}, lookups.calls)
}

func TestNormalizeCustomerUpdate(t *testing.T) {
	adapter := NewStripeAdapter(nil, 0)

	var c StripeCustomer
	mustDecode(t, `{"id":"cus_1","email":"jane@example.com","name":"Jane",
		"shipping":{"name":"Jane Doe","phone":"+15035550100","address":{"line1":"1 Roast Lane","city":"Portland","postal_code":"97201","country":"US"}}}`, &c)

	out, err := adapter.NormalizeCustomerUpdate(&c)
	require.NoError(t, err)
	assert.Equal(t, "+15035550100", out.Phone)
	assert.Equal(t, "Jane Doe", out.ShippingName)
	require.NotNil(t, out.ShippingAddress)
	assert.Equal(t, "Portland", out.ShippingAddress.City)

	_, err = adapter.NormalizeCustomerUpdate(&StripeCustomer{})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func mustPaymentIntent(t *testing.T, raw string) *StripePaymentIntent {
	t.Helper()
	var pi StripePaymentIntent
	mustDecode(t, raw, &pi)
	return &pi
}
