package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
)

// WebhookEventRepository records verified deliveries for deduplication and audit.
type WebhookEventRepository interface {
	// Record inserts ev unless (processor, event id) exists. On a repeat delivery the
	// stored row is returned with its attempt counter bumped and created is false.
	Record(ctx context.Context, ev *models.WebhookEvent) (stored *models.WebhookEvent, created bool, err error)
	GetByID(ctx context.Context, id uint) (*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
	MarkArchived(ctx context.Context, id uint, objectKey string) error
}

// InventoryRepository adjusts variant stock.
type InventoryRepository interface {
	DecrementStock(ctx context.Context, variantID string, quantity int) error
}

// WebhookStatsRepository reads the aggregated daily webhook outcomes.
type WebhookStatsRepository interface {
	ListDailyStats(ctx context.Context, from, to time.Time) ([]models.WebhookDailyStat, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Commerce     reconcile.Repository
	WebhookEvent WebhookEventRepository
	Inventory    InventoryRepository
	WebhookStats WebhookStatsRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Commerce:     NewCommerceRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		Inventory:    NewInventoryRepository(db),
		WebhookStats: NewWebhookStatsRepository(db),
	}
}
