package models

import "time"

const (
	PurchaseTypeOneTime      = "ONE_TIME"
	PurchaseTypeSubscription = "SUBSCRIPTION"
)

// ProductVariant is a sellable SKU. StockQuantity is decremented by fulfilled orders.
type ProductVariant struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProductName   string    `gorm:"type:varchar(200);not null" json:"product_name"`
	Name          string    `gorm:"type:varchar(200);default:''" json:"name"`
	StockQuantity int       `gorm:"not null;default:0" json:"stock_quantity"`
	IsDisabled    bool      `gorm:"default:false" json:"is_disabled"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseOption is how a variant is sold: once, or on a recurring price.
// ProcessorPriceID links recurring options to the processor's price object.
type PurchaseOption struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	VariantID        string         `gorm:"type:varchar(64);not null;index" json:"variant_id"`
	Variant          ProductVariant `gorm:"foreignKey:VariantID" json:"variant"`
	Type             string         `gorm:"type:varchar(16);not null;default:'ONE_TIME'" json:"type"`
	PriceInCents     int64          `gorm:"not null;default:0" json:"price_in_cents"`
	ProcessorPriceID string         `gorm:"type:varchar(191);default:'';index" json:"processor_price_id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
