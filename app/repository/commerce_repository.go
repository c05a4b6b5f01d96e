package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
)

// commerceRepository implements reconcile.Repository on top of GORM
type commerceRepository struct {
	db *gorm.DB
}

// NewCommerceRepository creates a new order/subscription repository instance
func NewCommerceRepository(db *gorm.DB) reconcile.Repository {
	return &commerceRepository{db: db}
}

// first runs q.First and maps a missing row to (false, nil).
func first(q *gorm.DB, dest interface{}) (bool, error) {
	err := q.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *commerceRepository) findOrder(ctx context.Context, column, processor, value string) (*models.Order, error) {
	var order models.Order
	ok, err := first(r.db.WithContext(ctx).Preload("Items").
		Where("processor = ? AND "+column+" = ?", processor, value), &order)
	if !ok {
		return nil, err
	}
	return &order, nil
}

func (r *commerceRepository) FindOrderBySessionID(ctx context.Context, processor, sessionID string) (*models.Order, error) {
	return r.findOrder(ctx, "session_id", processor, sessionID)
}

func (r *commerceRepository) FindOrderByInvoiceID(ctx context.Context, processor, invoiceID string) (*models.Order, error) {
	return r.findOrder(ctx, "invoice_id", processor, invoiceID)
}

// CreateOrder inserts the order and its items in one transaction. A unique key collision
// on (processor, session) or (processor, invoice) leaves the table untouched.
func (r *commerceRepository) CreateOrder(ctx context.Context, order *models.Order) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Items").Create(order)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for i := range order.Items {
			order.Items[i].ID = 0
			order.Items[i].OrderID = order.ID
		}
		if len(order.Items) > 0 {
			if err := tx.Create(&order.Items).Error; err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !created {
		order.ID = 0
	}
	return created, nil
}

// AttachOrderPayment copies invoice payment data onto the checkout order that opened
// subscriptionID. Orders that already carry an invoice are left alone.
func (r *commerceRepository) AttachOrderPayment(ctx context.Context, processor, subscriptionID string, info billing.NormalizedPaymentInfo) error {
	if subscriptionID == "" || info.InvoiceID == "" {
		return nil
	}
	updates := map[string]interface{}{
		"invoice_id":         info.InvoiceID,
		"payment_intent_id":  info.TransactionID,
		"charge_id":          info.ChargeID,
		"payment_card_last4": info.CardLast4,
		"payment_method":     info.PaymentMethod,
	}
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("processor = ? AND subscription_id = ? AND kind = ? AND invoice_id IS NULL", processor, subscriptionID, models.OrderKindCheckout).
		Updates(updates).Error
}

func (r *commerceRepository) FindSubscriptionByProcessorID(ctx context.Context, processor, processorSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	ok, err := first(r.db.WithContext(ctx).
		Where("processor = ? AND processor_subscription_id = ?", processor, processorSubscriptionID), &sub)
	if !ok {
		return nil, err
	}
	return &sub, nil
}

// FindActiveSubscriptionByUserAndProduct returns the newest non-canceled row.
func (r *commerceRepository) FindActiveSubscriptionByUserAndProduct(ctx context.Context, userID uint, productID string) (*models.Subscription, error) {
	var sub models.Subscription
	ok, err := first(r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ? AND status <> ?", userID, productID, models.SubscriptionStatusCanceled).
		Order("id DESC"), &sub)
	if !ok {
		return nil, err
	}
	return &sub, nil
}

func (r *commerceRepository) ListActiveSubscriptionsByCustomer(ctx context.Context, processor, processorCustomerID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("processor = ? AND processor_customer_id = ? AND status <> ?", processor, processorCustomerID, models.SubscriptionStatusCanceled).
		Order("id").Find(&subs).Error
	return subs, err
}

// UpsertSubscription inserts new rows and compare-and-sets existing ones on Version.
// An insert that collides with a row written concurrently (same processor id, or a live
// row for the same user and product) is reported as ErrVersionConflict so the caller
// re-reads and updates instead. The duplicate check needs gorm's TranslateError.
func (r *commerceRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	db := r.db.WithContext(ctx)
	sub.RefreshActiveProductKey()
	if sub.ID == 0 {
		sub.Version = 1
		err := db.Create(sub).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			sub.ID = 0
			return fmt.Errorf("%w: insert %s: %v", reconcile.ErrVersionConflict, sub.ProcessorSubscriptionID, err)
		}
		return err
	}

	next := *sub
	next.Version = sub.Version + 1
	res := db.Model(&models.Subscription{ID: sub.ID}).
		Where("version = ?", sub.Version).
		Select("*").Omit("ID", "CreatedAt").
		Updates(&next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return reconcile.ErrVersionConflict
	}
	sub.Version = next.Version
	sub.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *commerceRepository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	ok, err := first(r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))), &user)
	if !ok {
		return nil, err
	}
	return &user, nil
}

// FindUserByProcessorCustomerID resolves a processor customer through the subscriptions
// and orders already linked to a user.
func (r *commerceRepository) FindUserByProcessorCustomerID(ctx context.Context, processor, processorCustomerID string) (*models.User, error) {
	if processorCustomerID == "" {
		return nil, nil
	}
	db := r.db.WithContext(ctx)

	var sub models.Subscription
	ok, err := first(db.Select("user_id").
		Where("processor = ? AND processor_customer_id = ?", processor, processorCustomerID).
		Order("id DESC"), &sub)
	if err != nil {
		return nil, err
	}
	userID := sub.UserID
	if !ok {
		var order models.Order
		ok, err = first(db.Select("user_id").
			Where("processor = ? AND processor_customer_id = ? AND user_id IS NOT NULL", processor, processorCustomerID).
			Order("id DESC"), &order)
		if !ok {
			return nil, err
		}
		userID = *order.UserID
	}

	var user models.User
	ok, err = first(db.Where("id = ?", userID), &user)
	if !ok {
		return nil, err
	}
	return &user, nil
}

func (r *commerceRepository) FindPurchaseOptions(ctx context.Context, ids []string) (map[string]models.PurchaseOption, error) {
	out := make(map[string]models.PurchaseOption, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var options []models.PurchaseOption
	if err := r.db.WithContext(ctx).Preload("Variant").Where("id IN ?", ids).Find(&options).Error; err != nil {
		return nil, err
	}
	for _, o := range options {
		out[o.ID] = o
	}
	return out, nil
}

func (r *commerceRepository) FindPurchaseOptionsByPriceIDs(ctx context.Context, priceIDs []string) (map[string]models.PurchaseOption, error) {
	out := make(map[string]models.PurchaseOption, len(priceIDs))
	if len(priceIDs) == 0 {
		return out, nil
	}
	var options []models.PurchaseOption
	err := r.db.WithContext(ctx).Preload("Variant").
		Where("processor_price_id IN ? AND processor_price_id <> ''", priceIDs).
		Order("id").Find(&options).Error
	if err != nil {
		return nil, err
	}
	for _, o := range options {
		if _, seen := out[o.ProcessorPriceID]; !seen {
			out[o.ProcessorPriceID] = o
		}
	}
	return out, nil
}
