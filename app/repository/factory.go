package repository

import (
	"sync"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetCommerceRepository returns the order/subscription repository used by the reconciliation engine
func (f *Factory) GetCommerceRepository() reconcile.Repository {
	return f.GetRepositories().Commerce
}

// GetWebhookEventRepository returns the webhook event repository instance
func (f *Factory) GetWebhookEventRepository() WebhookEventRepository {
	return f.GetRepositories().WebhookEvent
}

// GetInventoryRepository returns the inventory repository instance
func (f *Factory) GetInventoryRepository() InventoryRepository {
	return f.GetRepositories().Inventory
}

// GetWebhookStatsRepository returns the webhook stats repository instance
func (f *Factory) GetWebhookStatsRepository() WebhookStatsRepository {
	return f.GetRepositories().WebhookStats
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
