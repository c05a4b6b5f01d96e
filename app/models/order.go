package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusPickedUp  = "PICKED_UP"
	OrderStatusCanceled  = "CANCELED"
	OrderStatusCompleted = "COMPLETED"
)

const (
	OrderKindCheckout = "checkout"
	OrderKindRenewal  = "renewal"
)

// Order is created once per checkout session or renewal invoice. The shipping columns are
// a snapshot taken when the order was placed and are never re-derived.
type Order struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PublicID  string `gorm:"type:varchar(36);uniqueIndex" json:"public_id"`
	Processor string `gorm:"type:varchar(20);not null;index:ux_orders_processor_session,unique,priority:1;index:ux_orders_processor_invoice,unique,priority:1" json:"processor"`
	// SessionID is null for renewal orders; InvoiceID is null until a payment is attached.
	SessionID           *string `gorm:"type:varchar(191);index:ux_orders_processor_session,unique,priority:2" json:"session_id,omitempty"`
	InvoiceID           *string `gorm:"type:varchar(191);index:ux_orders_processor_invoice,unique,priority:2" json:"invoice_id,omitempty"`
	Kind                string  `gorm:"type:varchar(16);not null;default:'checkout'" json:"kind"`
	SubscriptionID      string  `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	ProcessorCustomerID string  `gorm:"type:varchar(191);default:'';index" json:"processor_customer_id"`
	PaymentIntentID     string  `gorm:"type:varchar(191);default:''" json:"payment_intent_id"`
	ChargeID            string  `gorm:"type:varchar(191);default:''" json:"charge_id"`
	PaymentCardLast4    string  `gorm:"type:varchar(64);default:''" json:"payment_card_last4"`
	PaymentMethod       string  `gorm:"type:varchar(16);default:'other'" json:"payment_method"`
	UserID              *uint   `gorm:"index" json:"user_id,omitempty"`
	CustomerEmail       string  `gorm:"type:varchar(200);default:''" json:"customer_email"`
	CustomerPhone       string  `gorm:"type:varchar(50);default:''" json:"customer_phone"`
	Status              string  `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	DeliveryMethod      string  `gorm:"type:varchar(16);not null;default:'DELIVERY'" json:"delivery_method"`
	TotalInCents        int64   `gorm:"not null;default:0" json:"total_in_cents"`
	DiscountInCents     int64   `gorm:"not null;default:0" json:"discount_in_cents"`
	ShippingInCents     int64   `gorm:"not null;default:0" json:"shipping_in_cents"`

	RecipientName      string `gorm:"type:varchar(200);default:''" json:"recipient_name"`
	ShippingStreet     string `gorm:"type:varchar(255);default:''" json:"shipping_street"`
	ShippingCity       string `gorm:"type:varchar(120);default:''" json:"shipping_city"`
	ShippingState      string `gorm:"type:varchar(120);default:''" json:"shipping_state"`
	ShippingPostalCode string `gorm:"type:varchar(32);default:''" json:"shipping_postal_code"`
	ShippingCountry    string `gorm:"type:varchar(2);default:''" json:"shipping_country"`
	RecipientPhone     string `gorm:"type:varchar(50);default:''" json:"recipient_phone"`

	Items     []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem binds a purchase option to a quantity and the unit price captured at order time.
type OrderItem struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OrderID          uint      `gorm:"not null;index" json:"order_id"`
	PurchaseOptionID string    `gorm:"type:varchar(64);not null;index" json:"purchase_option_id"`
	VariantID        string    `gorm:"type:varchar(64);not null" json:"variant_id"`
	ProductName      string    `gorm:"type:varchar(200);default:''" json:"product_name"`
	Quantity         int       `gorm:"not null" json:"quantity"`
	PriceInCents     int64     `gorm:"not null;default:0" json:"price_in_cents"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.PublicID == "" {
		o.PublicID = uuid.New().String()
	}
	return nil
}

// ItemsTotalInCents sums captured unit prices.
func (o *Order) ItemsTotalInCents() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.PriceInCents * int64(item.Quantity)
	}
	return total
}
