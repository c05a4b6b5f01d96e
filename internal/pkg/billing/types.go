package billing

import (
	"encoding/json"
	"time"
)

const (
	ProcessorStripe = "stripe"
)

// Normalized subscription statuses. The reconciliation engine only understands these four.
const (
	StatusActive   = "ACTIVE"
	StatusPaused   = "PAUSED"
	StatusCanceled = "CANCELED"
	StatusPastDue  = "PAST_DUE"
)

const (
	DeliveryMethodDelivery = "DELIVERY"
	DeliveryMethodPickup   = "PICKUP"
)

const (
	PaymentMethodCard  = "card"
	PaymentMethodOther = "other"
)

// Address is a ship-to address. Empty strings mean absent.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsZero reports whether no address field carries a value.
func (a Address) IsZero() bool {
	return a.Line1 == "" && a.Line2 == "" && a.City == "" && a.State == "" && a.PostalCode == "" && a.Country == ""
}

// Street joins both address lines into the flattened street column.
func (a Address) Street() string {
	if a.Line2 == "" {
		return a.Line1
	}
	if a.Line1 == "" {
		return a.Line2
	}
	return a.Line1 + ", " + a.Line2
}

type CustomerInfo struct {
	ProcessorCustomerID string `json:"processor_customer_id"`
	Email               string `json:"email,omitempty" validate:"omitempty,email"`
	Phone               string `json:"phone,omitempty"`
	Name                string `json:"name,omitempty"`
}

type CartItem struct {
	PurchaseOptionID string `json:"purchase_option_id" validate:"required"`
	Quantity         int    `json:"quantity" validate:"gt=0"`
}

// NormalizedPaymentInfo is descriptive audit data copied onto orders.
type NormalizedPaymentInfo struct {
	Processor     string `json:"processor"`
	TransactionID string `json:"transaction_id,omitempty"`
	ChargeID      string `json:"charge_id,omitempty"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	CardLast4     string `json:"card_last4,omitempty"`
	PaymentMethod string `json:"payment_method"`
}

// Confirmed reports whether the processor attached any proof of payment.
func (p NormalizedPaymentInfo) Confirmed() bool {
	return p.TransactionID != "" || p.ChargeID != "" || p.InvoiceID != ""
}

// NormalizedCheckoutEvent is a completed checkout session.
type NormalizedCheckoutEvent struct {
	Processor       string                `json:"processor" validate:"required"`
	SessionID       string                `json:"session_id" validate:"required"`
	SubscriptionID  string                `json:"subscription_id,omitempty"`
	Mode            string                `json:"mode"`
	Paid            bool                  `json:"paid"`
	Customer        CustomerInfo          `json:"customer"`
	Items           []CartItem            `json:"items" validate:"required,min=1,dive"`
	DeliveryMethod  string                `json:"delivery_method" validate:"oneof=DELIVERY PICKUP"`
	ShippingAddress *Address              `json:"shipping_address,omitempty"`
	ShippingName    string                `json:"shipping_name,omitempty"`
	PaymentInfo     NormalizedPaymentInfo `json:"payment_info"`
	TotalInCents    int64                 `json:"total_in_cents" validate:"gte=0"`
	DiscountInCents int64                 `json:"discount_in_cents" validate:"gte=0"`
}

type SubscriptionItem struct {
	ProductID    string `json:"product_id" validate:"required"`
	ProductName  string `json:"product_name"`
	PriceID      string `json:"price_id"`
	Quantity     int    `json:"quantity" validate:"gt=0"`
	PriceInCents int64  `json:"price_in_cents" validate:"gte=0"`
}

// NormalizedSubscriptionData is a point-in-time snapshot of an upstream subscription.
type NormalizedSubscriptionData struct {
	Processor               string             `json:"processor" validate:"required"`
	ProcessorSubscriptionID string             `json:"processor_subscription_id" validate:"required"`
	ProcessorCustomerID     string             `json:"processor_customer_id"`
	Status                  string             `json:"status" validate:"oneof=ACTIVE PAUSED CANCELED PAST_DUE"`
	Items                   []SubscriptionItem `json:"items" validate:"required,min=1,dive"`
	TotalPriceInCents       int64              `json:"total_price_in_cents" validate:"gte=0"`
	CurrentPeriodStart      time.Time          `json:"current_period_start"`
	CurrentPeriodEnd        time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd       bool               `json:"cancel_at_period_end"`
	CanceledAt              *time.Time         `json:"canceled_at,omitempty"`
	PausedUntil             *time.Time         `json:"paused_until,omitempty"`
	ShippingAddress         *Address           `json:"shipping_address,omitempty"`
	ShippingName            string             `json:"shipping_name,omitempty"`
	CustomerPhone           string             `json:"customer_phone,omitempty"`
	DeliverySchedule        string             `json:"delivery_schedule,omitempty"`
	// ObservedAt is when the processor produced this state: the event creation time for
	// payload snapshots, the fetch time for looked-up ones. Zero disables ordering checks.
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// PrimaryProductID is the product half of the (user, product) business key.
func (s NormalizedSubscriptionData) PrimaryProductID() string {
	if len(s.Items) == 0 {
		return ""
	}
	return s.Items[0].ProductID
}

type NormalizedInvoicePaymentEvent struct {
	Processor       string                `json:"processor" validate:"required"`
	InvoiceID       string                `json:"invoice_id" validate:"required"`
	SubscriptionID  string                `json:"subscription_id,omitempty"`
	CustomerID      string                `json:"customer_id"`
	CustomerEmail   string                `json:"customer_email,omitempty"`
	PaymentInfo     NormalizedPaymentInfo `json:"payment_info"`
	IsRenewal       bool                  `json:"is_renewal"`
	TotalInCents    int64                 `json:"total_in_cents" validate:"gte=0"`
	SubtotalInCents int64                 `json:"subtotal_in_cents" validate:"gte=0"`
}

type NormalizedCustomerUpdate struct {
	Processor           string   `json:"processor" validate:"required"`
	ProcessorCustomerID string   `json:"processor_customer_id" validate:"required"`
	Email               string   `json:"email,omitempty"`
	Name                string   `json:"name,omitempty"`
	Phone               string   `json:"phone,omitempty"`
	ShippingAddress     *Address `json:"shipping_address,omitempty"`
	ShippingName        string   `json:"shipping_name,omitempty"`
}

// EventKind tags which field of a NormalizedEvent is populated.
type EventKind string

const (
	EventKindCheckout            EventKind = "checkout"
	EventKindInvoicePayment      EventKind = "invoice_payment"
	EventKindSubscriptionUpdated EventKind = "subscription_updated"
	EventKindSubscriptionDeleted EventKind = "subscription_deleted"
	EventKindCustomerUpdated     EventKind = "customer_updated"
	EventKindIgnored             EventKind = "ignored"
)

// NormalizedEvent is the processor-agnostic output of an adapter. Subscription is the
// related snapshot for checkout and invoice events, or the event subject itself for
// subscription events.
type NormalizedEvent struct {
	Kind         EventKind
	Checkout     *NormalizedCheckoutEvent
	Invoice      *NormalizedInvoicePaymentEvent
	Subscription *NormalizedSubscriptionData
	Customer     *NormalizedCustomerUpdate

	// DeletedSubscriptionID is set for EventKindSubscriptionDeleted.
	DeletedSubscriptionID string
}

// VerifiedEvent is an authenticated webhook envelope. Data holds the event object verbatim.
type VerifiedEvent struct {
	Processor string
	ID        string
	Type      string
	Created   time.Time
	Data      json.RawMessage
}
