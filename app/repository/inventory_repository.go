package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayHook/app/models"
)

// inventoryRepository implements the InventoryRepository interface
type inventoryRepository struct {
	db *gorm.DB
}

// NewInventoryRepository creates a new inventory repository instance
func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

// DecrementStock lowers stock by quantity, stopping at zero. Overselling is reported by
// the reconciliation engine, not here.
func (r *inventoryRepository) DecrementStock(ctx context.Context, variantID string, quantity int) error {
	res := r.db.WithContext(ctx).Model(&models.ProductVariant{}).
		Where("id = ?", variantID).
		UpdateColumn("stock_quantity", gorm.Expr("CASE WHEN stock_quantity > ? THEN stock_quantity - ? ELSE 0 END", quantity, quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// MySQL reports changed rows, so a variant already at zero also lands here.
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ProductVariant{}).Where("id = ?", variantID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("variant %s: %w", variantID, gorm.ErrRecordNotFound)
	}
	return nil
}
