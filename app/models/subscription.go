package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusPaused   = "PAUSED"
	SubscriptionStatusCanceled = "CANCELED"
	SubscriptionStatusPastDue  = "PAST_DUE"
)

// SubscriptionLine is one recurring item as stored in Subscription.Items.
type SubscriptionLine struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	PriceID      string `json:"price_id"`
	Quantity     int    `json:"quantity"`
	PriceInCents int64  `json:"price_in_cents"`
}

// Subscription mirrors a processor subscription. Rows are never deleted; cancellation is a
// status. Version guards concurrent writes (compare-and-set on update).
type Subscription struct {
	ID                      uint                                  `gorm:"primaryKey" json:"id"`
	UserID                  uint                                  `gorm:"not null;index:idx_subscriptions_user_product,priority:1" json:"user_id"`
	ProductID               string                                `gorm:"type:varchar(191);not null;index:idx_subscriptions_user_product,priority:2" json:"product_id"`
	Processor               string                                `gorm:"type:varchar(20);not null;index:ux_subscriptions_processor_subid,unique,priority:1" json:"processor"`
	ProcessorSubscriptionID string                                `gorm:"type:varchar(191);not null;index:ux_subscriptions_processor_subid,unique,priority:2" json:"processor_subscription_id"`
	ProcessorCustomerID     string                                `gorm:"type:varchar(191);default:'';index" json:"processor_customer_id"`
	Status                  string                                `gorm:"type:varchar(16);not null;default:'ACTIVE';index" json:"status"`
	Items                   datatypes.JSONType[[]SubscriptionLine] `json:"items"`
	PriceInCents            int64                                 `gorm:"not null;default:0" json:"price_in_cents"`
	DeliverySchedule        string                                `gorm:"type:varchar(100);default:''" json:"delivery_schedule"`
	CurrentPeriodStart      time.Time                             `json:"current_period_start"`
	CurrentPeriodEnd        time.Time                             `json:"current_period_end"`
	CancelAtPeriodEnd       bool                                  `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt              *time.Time                            `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	PausedUntil             *time.Time                            `gorm:"type:timestamp;default:null" json:"paused_until,omitempty"`

	RecipientName      string `gorm:"type:varchar(200);default:''" json:"recipient_name"`
	ShippingStreet     string `gorm:"type:varchar(255);default:''" json:"shipping_street"`
	ShippingCity       string `gorm:"type:varchar(120);default:''" json:"shipping_city"`
	ShippingState      string `gorm:"type:varchar(120);default:''" json:"shipping_state"`
	ShippingPostalCode string `gorm:"type:varchar(32);default:''" json:"shipping_postal_code"`
	ShippingCountry    string `gorm:"type:varchar(2);default:''" json:"shipping_country"`
	RecipientPhone     string `gorm:"type:varchar(50);default:''" json:"recipient_phone"`

	// ActiveProductKey is "<user>:<product>" while the row is not CANCELED and NULL after,
	// so the unique index allows one live subscription per user and product.
	ActiveProductKey *string `gorm:"type:varchar(220);uniqueIndex:ux_subscriptions_active_product" json:"-"`

	// LastEventAt is the creation time of the newest processor snapshot applied.
	LastEventAt *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`

	Version   uint      `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// RefreshActiveProductKey derives ActiveProductKey from UserID, ProductID and Status.
func (s *Subscription) RefreshActiveProductKey() {
	if s.IsCanceled() {
		s.ActiveProductKey = nil
		return
	}
	key := fmt.Sprintf("%d:%s", s.UserID, s.ProductID)
	s.ActiveProductKey = &key
}

// Lines returns the stored items.
func (s *Subscription) Lines() []SubscriptionLine {
	return s.Items.Data()
}

// HasShipping reports whether a ship-to snapshot is stored.
func (s *Subscription) HasShipping() bool {
	return s.ShippingStreet != "" || s.ShippingCity != "" || s.ShippingPostalCode != ""
}
