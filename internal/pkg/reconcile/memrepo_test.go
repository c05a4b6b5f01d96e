package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
)

// memRepo is an in-memory Repository. It hands out copies so the engine cannot mutate
// stored rows without going through UpsertSubscription.
type memRepo struct {
	mu      sync.Mutex
	nextID  uint
	orders  []*models.Order
	subs    []*models.Subscription
	users   []models.User
	options map[string]models.PurchaseOption

	// conflicts makes the next N subscription updates fail with ErrVersionConflict.
	conflicts int
	upserts   int
	// beforeUpsert runs once, outside the lock, ahead of the next UpsertSubscription.
	beforeUpsert func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		users: []models.User{{ID: 1, Name: "Jane Doe", Email: "jane@example.com"}},
		options: map[string]models.PurchaseOption{
			"po_beans": {
				ID: "po_beans", VariantID: "var_beans_250", PriceInCents: 1200, Type: models.PurchaseTypeOneTime,
				Variant: models.ProductVariant{ID: "var_beans_250", ProductName: "House Blend", Name: "250g", StockQuantity: 10},
			},
			"po_espresso": {
				ID: "po_espresso", VariantID: "var_espresso_1kg", PriceInCents: 1000, Type: models.PurchaseTypeOneTime,
				Variant: models.ProductVariant{ID: "var_espresso_1kg", ProductName: "Espresso", Name: "1kg", StockQuantity: 1},
			},
			"po_monthly": {
				ID: "po_monthly", VariantID: "var_beans_250", PriceInCents: 1500, Type: models.PurchaseTypeSubscription,
				ProcessorPriceID: "price_monthly",
				Variant:          models.ProductVariant{ID: "var_beans_250", ProductName: "House Blend", Name: "250g", StockQuantity: 10},
			},
		},
	}
}

func (r *memRepo) id() uint {
	r.nextID++
	return r.nextID
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	return &c
}

func copySub(s *models.Subscription) *models.Subscription {
	c := *s
	return &c
}

func (r *memRepo) FindOrderBySessionID(_ context.Context, processor, sessionID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Processor == processor && o.SessionID != nil && *o.SessionID == sessionID {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindOrderByInvoiceID(_ context.Context, processor, invoiceID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Processor == processor && o.InvoiceID != nil && *o.InvoiceID == invoiceID {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Processor != order.Processor {
			continue
		}
		if o.SessionID != nil && order.SessionID != nil && *o.SessionID == *order.SessionID {
			return false, nil
		}
		if o.InvoiceID != nil && order.InvoiceID != nil && *o.InvoiceID == *order.InvoiceID {
			return false, nil
		}
	}
	order.ID = r.id()
	if order.PublicID == "" {
		order.PublicID = fmt.Sprintf("ord-%d", order.ID)
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	r.orders = append(r.orders, copyOrder(order))
	return true, nil
}

func (r *memRepo) AttachOrderPayment(_ context.Context, processor, subscriptionID string, info billing.NormalizedPaymentInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Processor == processor && o.SubscriptionID == subscriptionID && o.Kind == models.OrderKindCheckout && o.InvoiceID == nil {
			id := info.InvoiceID
			o.InvoiceID = &id
			o.PaymentIntentID = info.TransactionID
			o.ChargeID = info.ChargeID
			o.PaymentCardLast4 = info.CardLast4
			o.PaymentMethod = info.PaymentMethod
		}
	}
	return nil
}

func (r *memRepo) FindSubscriptionByProcessorID(_ context.Context, processor, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Processor == processor && s.ProcessorSubscriptionID == id {
			return copySub(s), nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindActiveSubscriptionByUserAndProduct(_ context.Context, userID uint, productID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.UserID == userID && s.ProductID == productID && !s.IsCanceled() {
			return copySub(s), nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListActiveSubscriptionsByCustomer(_ context.Context, processor, customerID string) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		if s.Processor == processor && s.ProcessorCustomerID == customerID && !s.IsCanceled() {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memRepo) UpsertSubscription(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	hook := r.beforeUpsert
	r.beforeUpsert = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	if sub.ID == 0 {
		// Same unique keys as the subscriptions table.
		for _, s := range r.subs {
			if s.Processor == sub.Processor && s.ProcessorSubscriptionID == sub.ProcessorSubscriptionID {
				return ErrVersionConflict
			}
			if !sub.IsCanceled() && !s.IsCanceled() && s.UserID == sub.UserID && s.ProductID == sub.ProductID {
				return ErrVersionConflict
			}
		}
		sub.ID = r.id()
		sub.Version = 1
		r.subs = append(r.subs, copySub(sub))
		return nil
	}
	if r.conflicts > 0 {
		r.conflicts--
		return ErrVersionConflict
	}
	for i, s := range r.subs {
		if s.ID != sub.ID {
			continue
		}
		if s.Version != sub.Version {
			return ErrVersionConflict
		}
		sub.Version++
		r.subs[i] = copySub(sub)
		return nil
	}
	return fmt.Errorf("subscription %d does not exist", sub.ID)
}

func (r *memRepo) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			c := u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindUserByProcessorCustomerID(_ context.Context, processor, customerID string) (*models.User, error) {
	r.mu.Lock()
	var userID *uint
	for _, o := range r.orders {
		if o.Processor == processor && o.ProcessorCustomerID == customerID && o.UserID != nil {
			userID = o.UserID
			break
		}
	}
	r.mu.Unlock()
	if userID == nil {
		return nil, nil
	}
	for _, u := range r.users {
		if u.ID == *userID {
			c := u
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) FindPurchaseOptions(_ context.Context, ids []string) (map[string]models.PurchaseOption, error) {
	out := make(map[string]models.PurchaseOption)
	for _, id := range ids {
		if o, ok := r.options[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

func (r *memRepo) FindPurchaseOptionsByPriceIDs(_ context.Context, priceIDs []string) (map[string]models.PurchaseOption, error) {
	out := make(map[string]models.PurchaseOption)
	for _, o := range r.options {
		for _, p := range priceIDs {
			if o.ProcessorPriceID != "" && o.ProcessorPriceID == p {
				out[p] = o
			}
		}
	}
	return out, nil
}

func (r *memRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memRepo) subscriptions() []models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, *s)
	}
	return out
}

var periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func snapshot(id, status string) *billing.NormalizedSubscriptionData {
	return &billing.NormalizedSubscriptionData{
		Processor:               billing.ProcessorStripe,
		ProcessorSubscriptionID: id,
		ProcessorCustomerID:     "cus_jane",
		Status:                  status,
		Items: []billing.SubscriptionItem{{
			ProductID: "prod_house_blend", ProductName: "House Blend", PriceID: "price_monthly", Quantity: 1, PriceInCents: 1500,
		}},
		TotalPriceInCents:  1500,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		DeliverySchedule:   "Every month",
		ShippingAddress:    &billing.Address{Line1: "1 Roast Lane", City: "Portland", State: "OR", PostalCode: "97201", Country: "US"},
		ShippingName:       "Jane Doe",
	}
}
