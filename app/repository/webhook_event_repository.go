package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayHook/app/models"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, ev *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	db := r.db.WithContext(ctx)
	if ev.Attempts == 0 {
		ev.Attempts = 1
	}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return ev, true, nil
	}

	var stored models.WebhookEvent
	if err := db.Where("processor = ? AND event_id = ?", ev.Processor, ev.EventID).First(&stored).Error; err != nil {
		return nil, false, err
	}
	if err := db.Model(&stored).UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return nil, false, err
	}
	stored.Attempts++
	return &stored, false, nil
}

func (r *webhookEventRepository) GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	ok, err := first(r.db.WithContext(ctx).Where("id = ?", id), &ev)
	if !ok {
		return nil, err
	}
	return &ev, nil
}

// MarkProcessed stamps the event. An empty processingError marks it as applied.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     time.Now().UTC(),
		"processing_error": processingError,
	}).Error
}

func (r *webhookEventRepository) MarkArchived(ctx context.Context, id uint, objectKey string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"archived_at": time.Now().UTC(),
		"archive_key": objectKey,
	}).Error
}
