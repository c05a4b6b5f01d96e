package reconcile

import (
	"context"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
)

// Repository is the persistence the engine needs. Find methods return (nil, nil) when no
// row matches.
//
// UpsertSubscription inserts when sub.ID is zero. Otherwise it performs a compare-and-set
// on sub.Version and returns ErrVersionConflict when another writer got there first.
// CreateOrder reports created=false when the order's unique key already exists.
type Repository interface {
	FindOrderBySessionID(ctx context.Context, processor, sessionID string) (*models.Order, error)
	FindOrderByInvoiceID(ctx context.Context, processor, invoiceID string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) (bool, error)
	AttachOrderPayment(ctx context.Context, processor, subscriptionID string, info billing.NormalizedPaymentInfo) error

	FindSubscriptionByProcessorID(ctx context.Context, processor, processorSubscriptionID string) (*models.Subscription, error)
	FindActiveSubscriptionByUserAndProduct(ctx context.Context, userID uint, productID string) (*models.Subscription, error)
	ListActiveSubscriptionsByCustomer(ctx context.Context, processor, processorCustomerID string) ([]models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error

	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByProcessorCustomerID(ctx context.Context, processor, processorCustomerID string) (*models.User, error)

	FindPurchaseOptions(ctx context.Context, ids []string) (map[string]models.PurchaseOption, error)
	FindPurchaseOptionsByPriceIDs(ctx context.Context, priceIDs []string) (map[string]models.PurchaseOption, error)
}
