package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The Stripe object shapes below only carry the fields this service reads. They are decoded
// from the verified event data or from the raw JSON of an API lookup, so the same parser
// handles both sources regardless of the SDK's struct layout for a given API version.

// stripeRef is a field Stripe returns either as an ID string or as an expanded object.
type stripeRef struct {
	ID  string
	Raw json.RawMessage
}

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("stripe reference: %w", err)
	}
	r.ID = obj.ID
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (r stripeRef) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// Expanded reports whether the reference carried the full object.
func (r stripeRef) Expanded() bool {
	return len(r.Raw) > 0
}

// Decode unmarshals the expanded object into out. It returns false for bare IDs.
func (r stripeRef) Decode(out interface{}) bool {
	if !r.Expanded() {
		return false
	}
	return json.Unmarshal(r.Raw, out) == nil
}

type StripeAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type StripeShippingDetails struct {
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Address *StripeAddress `json:"address"`
}

type StripeCustomerDetails struct {
	Email   string         `json:"email"`
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Address *StripeAddress `json:"address"`
}

type StripeCollectedInformation struct {
	ShippingDetails *StripeShippingDetails `json:"shipping_details"`
}

type StripeTotalDetails struct {
	AmountDiscount int64 `json:"amount_discount"`
	AmountShipping int64 `json:"amount_shipping"`
}

type StripeCheckoutSession struct {
	ID                   string                      `json:"id"`
	Mode                 string                      `json:"mode"`
	PaymentStatus        string                      `json:"payment_status"`
	AmountTotal          int64                       `json:"amount_total"`
	Customer             stripeRef                   `json:"customer"`
	CustomerEmail        string                      `json:"customer_email"`
	CustomerDetails      *StripeCustomerDetails      `json:"customer_details"`
	CollectedInformation *StripeCollectedInformation `json:"collected_information"`
	Metadata             map[string]string           `json:"metadata"`
	PaymentIntent        stripeRef                   `json:"payment_intent"`
	Subscription         stripeRef                   `json:"subscription"`
	TotalDetails         *StripeTotalDetails         `json:"total_details"`
}

type StripeRecurring struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count"`
}

type StripePrice struct {
	ID         string           `json:"id"`
	Nickname   string           `json:"nickname"`
	UnitAmount int64            `json:"unit_amount"`
	Product    stripeRef        `json:"product"`
	Recurring  *StripeRecurring `json:"recurring"`
}

type StripeSubscriptionItem struct {
	ID                 string       `json:"id"`
	Quantity           int64        `json:"quantity"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Price              *StripePrice `json:"price"`
}

type StripePauseCollection struct {
	Behavior  string `json:"behavior"`
	ResumesAt int64  `json:"resumes_at"`
}

type StripeSubscription struct {
	ID                string                 `json:"id"`
	Status            string                 `json:"status"`
	Customer          stripeRef              `json:"customer"`
	CancelAtPeriodEnd bool                   `json:"cancel_at_period_end"`
	CancelAt          int64                  `json:"cancel_at"`
	CanceledAt        int64                  `json:"canceled_at"`
	PauseCollection   *StripePauseCollection `json:"pause_collection"`
	Metadata          map[string]string      `json:"metadata"`
	LatestInvoice     stripeRef              `json:"latest_invoice"`
	Items             struct {
		Data []StripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type StripeInvoiceParent struct {
	SubscriptionDetails *struct {
		Subscription json.RawMessage   `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

type StripeInvoicePayment struct {
	Payment struct {
		Type          string    `json:"type"`
		PaymentIntent stripeRef `json:"payment_intent"`
		Charge        stripeRef `json:"charge"`
	} `json:"payment"`
}

type StripeInvoice struct {
	ID            string               `json:"id"`
	BillingReason string               `json:"billing_reason"`
	Customer      stripeRef            `json:"customer"`
	CustomerEmail string               `json:"customer_email"`
	Total         int64                `json:"total"`
	Subtotal      int64                `json:"subtotal"`
	Subscription  json.RawMessage      `json:"subscription"`
	Parent        *StripeInvoiceParent `json:"parent"`
	Payments      *struct {
		Data []StripeInvoicePayment `json:"data"`
	} `json:"payments"`
	// Pre-2025 API versions put these directly on the invoice.
	PaymentIntent stripeRef `json:"payment_intent"`
	Charge        stripeRef `json:"charge"`
}

type StripeCard struct {
	Brand string `json:"brand"`
	Last4 string `json:"last4"`
}

type StripeCharge struct {
	ID                   string `json:"id"`
	PaymentMethodDetails *struct {
		Card *StripeCard `json:"card"`
	} `json:"payment_method_details"`
}

type StripePaymentMethod struct {
	ID   string      `json:"id"`
	Card *StripeCard `json:"card"`
}

type StripePaymentIntent struct {
	ID            string    `json:"id"`
	LatestCharge  stripeRef `json:"latest_charge"`
	PaymentMethod stripeRef `json:"payment_method"`
}

type StripeProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StripeCustomer struct {
	ID       string                 `json:"id"`
	Email    string                 `json:"email"`
	Name     string                 `json:"name"`
	Phone    string                 `json:"phone"`
	Shipping *StripeShippingDetails `json:"shipping"`
}

// decodeObject unmarshals a Stripe object and wraps failures as ErrInvalidPayload.
func decodeObject(raw []byte, kind string, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, kind, err)
	}
	return nil
}
