package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayHook/app/models"
)

// webhookStatsRepository implements the WebhookStatsRepository interface
type webhookStatsRepository struct {
	db *gorm.DB
}

// NewWebhookStatsRepository creates a new webhook stats repository instance
func NewWebhookStatsRepository(db *gorm.DB) WebhookStatsRepository {
	return &webhookStatsRepository{db: db}
}

// ListDailyStats returns rows for days in [from, to], oldest first.
func (r *webhookStatsRepository) ListDailyStats(ctx context.Context, from, to time.Time) ([]models.WebhookDailyStat, error) {
	var stats []models.WebhookDailyStat
	err := r.db.WithContext(ctx).
		Where("day >= ? AND day <= ?", from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02")).
		Order("day, processor, outcome").
		Find(&stats).Error
	return stats, err
}
