package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/effects"
)

// Outcome is what the engine decided for one normalized event. Commands are only
// populated by the delivery that first committed the financial fact.
type Outcome struct {
	Duplicate    bool
	Order        *models.Order
	Subscription *SnapshotResult
	Commands     []effects.Command
	Warnings     []string
}

func (o *Outcome) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Warnf("[Reconcile] %s", msg)
	o.Warnings = append(o.Warnings, msg)
}

// Engine converges local orders and subscriptions to the processor's state.
type Engine struct {
	repo          Repository
	validate      *validator.Validate
	merchantEmail string
	now           func() time.Time
}

func NewEngine(repo Repository, merchantEmail string) *Engine {
	return &Engine{
		repo:          repo,
		validate:      validator.New(),
		merchantEmail: strings.TrimSpace(merchantEmail),
		now:           time.Now,
	}
}

func (e *Engine) check(v interface{}) error {
	if err := e.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// ApplyCheckout records a completed checkout session. sub is the related subscription
// snapshot, or nil for one-time purchases.
func (e *Engine) ApplyCheckout(ctx context.Context, ev *billing.NormalizedCheckoutEvent, sub *billing.NormalizedSubscriptionData) (*Outcome, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: checkout event is nil", ErrInvalidEvent)
	}
	if err := e.check(ev); err != nil {
		return nil, err
	}

	out := &Outcome{}
	existing, err := e.repo.FindOrderBySessionID(ctx, ev.Processor, ev.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find order for session %s: %w", ev.SessionID, err)
	}
	if existing != nil {
		log.Infof("[Reconcile] Session %s already recorded as order %s, skipping effects", ev.SessionID, existing.PublicID)
		out.Duplicate = true
		out.Order = existing
		if err := e.convergeCheckoutSubscription(ctx, ev, existing.UserID, sub, out); err != nil {
			return out, err
		}
		return out, nil
	}

	userID, err := e.resolveUserByEmail(ctx, ev.Customer.Email)
	if err != nil {
		return nil, err
	}

	options, err := e.purchaseOptionsFor(ctx, ev.Items)
	if err != nil {
		return nil, err
	}

	order := e.buildCheckoutOrder(ev, userID, options, out)
	created, err := e.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order for session %s: %w", ev.SessionID, err)
	}
	if !created {
		// Lost the insert race against a concurrent delivery of the same session.
		log.Infof("[Reconcile] Session %s was recorded concurrently, skipping effects", ev.SessionID)
		out.Duplicate = true
		if winner, err := e.repo.FindOrderBySessionID(ctx, ev.Processor, ev.SessionID); err == nil && winner != nil {
			out.Order = winner
		}
		return out, nil
	}
	out.Order = order
	out.Commands = e.checkoutCommands(ev, order, out)
	log.Infof("[Reconcile] Order %s created for session %s (%d items, %d cents)",
		order.PublicID, ev.SessionID, len(order.Items), order.TotalInCents)

	if err := e.convergeCheckoutSubscription(ctx, ev, userID, sub, out); err != nil {
		return out, err
	}
	return out, nil
}

// convergeCheckoutSubscription applies the subscription snapshot that came with a checkout.
// Without confirmed payment the snapshot may only refresh a row that already exists under
// the same processor id; creation is left to the invoice payment.
func (e *Engine) convergeCheckoutSubscription(ctx context.Context, ev *billing.NormalizedCheckoutEvent, userID *uint, sub *billing.NormalizedSubscriptionData, out *Outcome) error {
	if ev.SubscriptionID == "" || sub == nil {
		return nil
	}

	paid := ev.Paid && ev.PaymentInfo.Confirmed()
	opts := ApplyOptions{AllowCreate: paid}
	if !paid {
		log.Infof("[Reconcile] Session %s: payment for subscription %s not confirmed yet", ev.SessionID, ev.SubscriptionID)
		userID = nil
	} else if userID == nil {
		out.warn("session %s: subscription %s has no matching account, not stored", ev.SessionID, ev.SubscriptionID)
		opts.AllowCreate = false
	}

	res, err := e.ApplySubscriptionSnapshot(ctx, userID, sub, opts)
	if err != nil {
		return err
	}
	out.Subscription = res
	return nil
}

// ApplyInvoicePayment records a paid subscription invoice. The initial invoice confirms
// the checkout order; later cycles become renewal orders.
func (e *Engine) ApplyInvoicePayment(ctx context.Context, ev *billing.NormalizedInvoicePaymentEvent, sub *billing.NormalizedSubscriptionData) (*Outcome, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: invoice event is nil", ErrInvalidEvent)
	}
	if err := e.check(ev); err != nil {
		return nil, err
	}

	out := &Outcome{}
	existing, err := e.repo.FindOrderByInvoiceID(ctx, ev.Processor, ev.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("find order for invoice %s: %w", ev.InvoiceID, err)
	}
	if existing != nil {
		out.Duplicate = true
		out.Order = existing
	}

	userID, err := e.resolveInvoiceUser(ctx, ev)
	if err != nil {
		return nil, err
	}

	if sub != nil {
		opts := ApplyOptions{AllowCreate: true, PreserveShipping: true}
		if userID == nil {
			out.warn("invoice %s: no account for customer %s, subscription %s not created", ev.InvoiceID, ev.CustomerID, ev.SubscriptionID)
			opts.AllowCreate = false
		}
		res, err := e.ApplySubscriptionSnapshot(ctx, userID, sub, opts)
		if err != nil {
			return out, err
		}
		out.Subscription = res
	}

	if out.Duplicate {
		log.Infof("[Reconcile] Invoice %s already recorded on order %s", ev.InvoiceID, existing.PublicID)
		return out, nil
	}

	if !ev.IsRenewal {
		info := ev.PaymentInfo
		info.InvoiceID = ev.InvoiceID
		if err := e.repo.AttachOrderPayment(ctx, ev.Processor, ev.SubscriptionID, info); err != nil {
			return out, fmt.Errorf("attach invoice %s to checkout order: %w", ev.InvoiceID, err)
		}
		log.Infof("[Reconcile] Invoice %s confirmed initial payment for subscription %s", ev.InvoiceID, ev.SubscriptionID)
		return out, nil
	}

	if sub == nil {
		out.warn("renewal invoice %s has no subscription snapshot, no order created", ev.InvoiceID)
		return out, nil
	}

	var row *models.Subscription
	if out.Subscription != nil {
		row = out.Subscription.Subscription
	}
	order, err := e.buildRenewalOrder(ctx, ev, sub, row, userID, out)
	if err != nil {
		return out, err
	}
	created, err := e.repo.CreateOrder(ctx, order)
	if err != nil {
		return out, fmt.Errorf("create renewal order for invoice %s: %w", ev.InvoiceID, err)
	}
	if !created {
		log.Infof("[Reconcile] Invoice %s was recorded concurrently, skipping effects", ev.InvoiceID)
		out.Duplicate = true
		return out, nil
	}
	out.Order = order
	out.Commands = e.renewalCommands(ev, order)
	log.Infof("[Reconcile] Renewal order %s created for invoice %s", order.PublicID, ev.InvoiceID)
	return out, nil
}

// ApplyCustomerUpdate copies the customer's shipping and phone onto their open
// subscriptions. Existing orders keep their snapshot.
func (e *Engine) ApplyCustomerUpdate(ctx context.Context, upd *billing.NormalizedCustomerUpdate) (*Outcome, error) {
	if upd == nil {
		return nil, fmt.Errorf("%w: customer update is nil", ErrInvalidEvent)
	}
	if err := e.check(upd); err != nil {
		return nil, err
	}

	out := &Outcome{}
	if upd.ShippingAddress == nil && upd.Phone == "" {
		return out, nil
	}

	subs, err := e.repo.ListActiveSubscriptionsByCustomer(ctx, upd.Processor, upd.ProcessorCustomerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for customer %s: %w", upd.ProcessorCustomerID, err)
	}

	name := upd.ShippingName
	if name == "" {
		name = upd.Name
	}
	for i := range subs {
		id := subs[i].ProcessorSubscriptionID
		_, err := e.mutateSubscription(ctx, upd.Processor, id, func(row *models.Subscription) bool {
			if row.IsCanceled() {
				return false
			}
			if upd.ShippingAddress != nil {
				setSubscriptionShipping(row, upd.ShippingAddress, name)
			}
			if upd.Phone != "" {
				row.RecipientPhone = upd.Phone
			}
			return true
		})
		if err != nil {
			return out, err
		}
	}
	log.Infof("[Reconcile] Customer %s: synced contact details to %d subscriptions", upd.ProcessorCustomerID, len(subs))
	return out, nil
}

func (e *Engine) resolveUserByEmail(ctx context.Context, email string) (*uint, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	user, err := e.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	id := user.ID
	return &id, nil
}

func (e *Engine) resolveInvoiceUser(ctx context.Context, ev *billing.NormalizedInvoicePaymentEvent) (*uint, error) {
	if ev.CustomerID != "" {
		user, err := e.repo.FindUserByProcessorCustomerID(ctx, ev.Processor, ev.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("find user by customer %s: %w", ev.CustomerID, err)
		}
		if user != nil {
			id := user.ID
			return &id, nil
		}
	}
	return e.resolveUserByEmail(ctx, ev.CustomerEmail)
}

func (e *Engine) purchaseOptionsFor(ctx context.Context, items []billing.CartItem) (map[string]models.PurchaseOption, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.PurchaseOptionID)
	}
	options, err := e.repo.FindPurchaseOptions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load purchase options: %w", err)
	}
	var missing []string
	for _, id := range ids {
		if _, ok := options[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrUnknownPurchaseOption, strings.Join(missing, ", "))
	}
	return options, nil
}

func (e *Engine) buildCheckoutOrder(ev *billing.NormalizedCheckoutEvent, userID *uint, options map[string]models.PurchaseOption, out *Outcome) *models.Order {
	sessionID := ev.SessionID
	order := &models.Order{
		Processor:           ev.Processor,
		SessionID:           &sessionID,
		Kind:                models.OrderKindCheckout,
		SubscriptionID:      ev.SubscriptionID,
		ProcessorCustomerID: ev.Customer.ProcessorCustomerID,
		UserID:              userID,
		CustomerEmail:       strings.ToLower(strings.TrimSpace(ev.Customer.Email)),
		CustomerPhone:       ev.Customer.Phone,
		Status:              models.OrderStatusPending,
		DeliveryMethod:      ev.DeliveryMethod,
		TotalInCents:        ev.TotalInCents,
		DiscountInCents:     ev.DiscountInCents,
	}
	applyPaymentInfo(order, ev.PaymentInfo)

	for _, item := range ev.Items {
		option := options[item.PurchaseOptionID]
		variant := option.Variant
		if variant.IsDisabled {
			out.warn("session %s: variant %s is disabled", ev.SessionID, option.VariantID)
		}
		if variant.StockQuantity < item.Quantity {
			out.warn("session %s: variant %s has %d in stock, %d ordered", ev.SessionID, option.VariantID, variant.StockQuantity, item.Quantity)
		}
		order.Items = append(order.Items, models.OrderItem{
			PurchaseOptionID: option.ID,
			VariantID:        option.VariantID,
			ProductName:      variantLabel(variant),
			Quantity:         item.Quantity,
			PriceInCents:     option.PriceInCents,
		})
	}

	shipping := ev.TotalInCents + ev.DiscountInCents - order.ItemsTotalInCents()
	if shipping < 0 {
		shipping = 0
	}
	order.ShippingInCents = shipping

	if ev.DeliveryMethod == billing.DeliveryMethodDelivery {
		if ev.ShippingAddress == nil {
			out.warn("session %s: delivery order has no shipping address", ev.SessionID)
		} else {
			setOrderShipping(order, ev.ShippingAddress, ev.ShippingName)
		}
		order.RecipientPhone = ev.Customer.Phone
	}
	return order
}

func (e *Engine) buildRenewalOrder(ctx context.Context, ev *billing.NormalizedInvoicePaymentEvent, sub *billing.NormalizedSubscriptionData, row *models.Subscription, userID *uint, out *Outcome) (*models.Order, error) {
	priceIDs := make([]string, 0, len(sub.Items))
	for _, item := range sub.Items {
		if item.PriceID != "" {
			priceIDs = append(priceIDs, item.PriceID)
		}
	}
	options, err := e.repo.FindPurchaseOptionsByPriceIDs(ctx, priceIDs)
	if err != nil {
		return nil, fmt.Errorf("load purchase options for invoice %s: %w", ev.InvoiceID, err)
	}

	invoiceID := ev.InvoiceID
	order := &models.Order{
		Processor:           ev.Processor,
		InvoiceID:           &invoiceID,
		Kind:                models.OrderKindRenewal,
		SubscriptionID:      sub.ProcessorSubscriptionID,
		ProcessorCustomerID: ev.CustomerID,
		UserID:              userID,
		CustomerEmail:       strings.ToLower(strings.TrimSpace(ev.CustomerEmail)),
		CustomerPhone:       sub.CustomerPhone,
		Status:              models.OrderStatusPending,
		DeliveryMethod:      billing.DeliveryMethodPickup,
		TotalInCents:        ev.TotalInCents,
	}
	applyPaymentInfo(order, ev.PaymentInfo)
	order.InvoiceID = &invoiceID

	for _, item := range sub.Items {
		option, ok := options[item.PriceID]
		if !ok {
			out.warn("invoice %s: no purchase option for price %s, item skipped", ev.InvoiceID, item.PriceID)
			continue
		}
		name := item.ProductName
		if name == "" {
			name = variantLabel(option.Variant)
		}
		order.Items = append(order.Items, models.OrderItem{
			PurchaseOptionID: option.ID,
			VariantID:        option.VariantID,
			ProductName:      name,
			Quantity:         item.Quantity,
			PriceInCents:     item.PriceInCents,
		})
	}
	if len(order.Items) == 0 {
		out.warn("invoice %s: renewal order has no resolvable items", ev.InvoiceID)
	}

	shipping := ev.TotalInCents - ev.SubtotalInCents
	if shipping < 0 {
		shipping = 0
	}
	order.ShippingInCents = shipping

	switch {
	case row != nil && row.HasShipping():
		order.DeliveryMethod = billing.DeliveryMethodDelivery
		order.RecipientName = row.RecipientName
		order.ShippingStreet = row.ShippingStreet
		order.ShippingCity = row.ShippingCity
		order.ShippingState = row.ShippingState
		order.ShippingPostalCode = row.ShippingPostalCode
		order.ShippingCountry = row.ShippingCountry
		order.RecipientPhone = row.RecipientPhone
	case sub.ShippingAddress != nil:
		order.DeliveryMethod = billing.DeliveryMethodDelivery
		setOrderShipping(order, sub.ShippingAddress, sub.ShippingName)
		order.RecipientPhone = sub.CustomerPhone
	}
	return order, nil
}

func applyPaymentInfo(order *models.Order, info billing.NormalizedPaymentInfo) {
	order.PaymentIntentID = info.TransactionID
	order.ChargeID = info.ChargeID
	order.PaymentCardLast4 = info.CardLast4
	order.PaymentMethod = info.PaymentMethod
	if order.PaymentMethod == "" {
		order.PaymentMethod = billing.PaymentMethodOther
	}
	if info.InvoiceID != "" {
		id := info.InvoiceID
		order.InvoiceID = &id
	}
}

func setOrderShipping(order *models.Order, addr *billing.Address, name string) {
	order.RecipientName = name
	order.ShippingStreet = addr.Street()
	order.ShippingCity = addr.City
	order.ShippingState = addr.State
	order.ShippingPostalCode = addr.PostalCode
	order.ShippingCountry = addr.Country
}

func variantLabel(v models.ProductVariant) string {
	if v.Name == "" {
		return v.ProductName
	}
	if v.ProductName == "" {
		return v.Name
	}
	return v.ProductName + " (" + v.Name + ")"
}
