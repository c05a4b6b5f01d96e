package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeProcessor_SubscriptionEventsCarryEventTime(t *testing.T) {
	processor := NewStripeProcessor(NewStripeVerifier("whsec_test"), NewStripeAdapter(nil, time.Second))
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	for _, eventType := range []string{StripeEventSubscriptionCreated, StripeEventSubscriptionUpdated} {
		t.Run(eventType, func(t *testing.T) {
			norm, err := processor.Normalize(context.Background(), &VerifiedEvent{
				Processor: ProcessorStripe,
				ID:        "evt_1",
				Type:      eventType,
				Created:   created,
				Data: []byte(`{
					"id": "sub_1",
					"status": "past_due",
					"customer": "cus_1",
					"items": {"data": [
						{"quantity": 1, "current_period_start": 1772000000, "current_period_end": 1774000000,
						 "price": {"id": "price_house", "unit_amount": 1500, "product": {"id": "prod_house", "name": "House Blend"}}}
					]}
				}`),
			})
			require.NoError(t, err)
			assert.Equal(t, EventKindSubscriptionUpdated, norm.Kind)
			require.NotNil(t, norm.Subscription)
			assert.Equal(t, StatusPastDue, norm.Subscription.Status)
			assert.True(t, norm.Subscription.ObservedAt.Equal(created))
		})
	}
}
