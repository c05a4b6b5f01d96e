package billing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// PlaceholderProductName is used when a subscription product cannot be resolved.
const PlaceholderProductName = "Coffee Subscription"

// StripeLookups are the read-only Stripe API calls the adapter may need. Each call is
// a network round trip and must honour ctx.
type StripeLookups interface {
	Subscription(ctx context.Context, id string) (*StripeSubscription, error)
	Invoice(ctx context.Context, id string) (*StripeInvoice, error)
	PaymentIntent(ctx context.Context, id string) (*StripePaymentIntent, error)
	Product(ctx context.Context, id string) (*StripeProduct, error)
}

// SubscriptionOverrides carry values the checkout session knows better than the
// subscription object (it has no first-class shipping).
type SubscriptionOverrides struct {
	ShippingAddress *Address
	ShippingName    string
	CustomerPhone   string
}

// StripeAdapter maps Stripe payloads onto the normalized model.
type StripeAdapter struct {
	lookups StripeLookups
	timeout time.Duration
	now     func() time.Time
}

// NewStripeAdapter creates an adapter. timeout bounds every lookup; zero means 10s.
func NewStripeAdapter(lookups StripeLookups, timeout time.Duration) *StripeAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeAdapter{lookups: lookups, timeout: timeout, now: time.Now}
}

var nicknameSchedulePattern = regexp.MustCompile(`(?i)Every\s+[^-()]+`)

// MapStripeSubscriptionStatus converts a Stripe status to one of the four normalized
// statuses. An explicit "paused" status and a pause_collection block both mean PAUSED.
func MapStripeSubscriptionStatus(status string, pauseCollection bool) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "canceled", "incomplete_expired":
		return StatusCanceled
	}
	if pauseCollection || strings.EqualFold(status, "paused") {
		return StatusPaused
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "past_due", "unpaid":
		return StatusPastDue
	default:
		return StatusActive
	}
}

// FormatBillingInterval renders a recurring interval as a schedule label,
// e.g. ("week", 1) -> "Every week", ("week", 2) -> "Every 2 weeks".
func FormatBillingInterval(interval string, count int64) string {
	unit := strings.ToLower(strings.TrimSpace(interval))
	if unit == "" {
		return ""
	}
	if count <= 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", count, unit)
}

// FormatCardLabel renders "Visa ****4242". It returns "" without last4.
func FormatCardLabel(card *StripeCard) string {
	if card == nil || strings.TrimSpace(card.Last4) == "" {
		return ""
	}
	brand := strings.TrimSpace(card.Brand)
	if brand == "" {
		return "****" + card.Last4
	}
	return strings.ToUpper(brand[:1]) + brand[1:] + " ****" + card.Last4
}

// NormalizeCheckoutSession combines cart metadata, shipping and payment details.
func (a *StripeAdapter) NormalizeCheckoutSession(ctx context.Context, session *StripeCheckoutSession) (*NormalizedCheckoutEvent, error) {
	if session == nil || strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrInvalidPayload)
	}

	customer := CustomerInfo{ProcessorCustomerID: session.Customer.ID}
	if session.CustomerDetails != nil {
		customer.Email = strings.TrimSpace(session.CustomerDetails.Email)
		customer.Phone = strings.TrimSpace(session.CustomerDetails.Phone)
		customer.Name = strings.TrimSpace(session.CustomerDetails.Name)
	}
	if customer.Email == "" {
		customer.Email = strings.TrimSpace(session.CustomerEmail)
	}

	ev := &NormalizedCheckoutEvent{
		Processor:      ProcessorStripe,
		SessionID:      session.ID,
		SubscriptionID: session.Subscription.ID,
		Mode:           session.Mode,
		Paid:           session.PaymentStatus == "paid",
		Customer:       customer,
		Items:          ParseCartMetadata(session),
		DeliveryMethod: ParseDeliveryMethod(session.Metadata),
		TotalInCents:   session.AmountTotal,
	}
	if session.TotalDetails != nil {
		ev.DiscountInCents = session.TotalDetails.AmountDiscount
	}

	if ev.DeliveryMethod == DeliveryMethodDelivery {
		shipping := ParseShippingFromSession(session)
		ev.ShippingAddress = shipping.Address
		ev.ShippingName = shipping.Name
		if ev.ShippingAddress == nil {
			log.Warnf("[Billing] Session %s is a delivery order without shipping details", session.ID)
		}
	}

	if session.Mode == "subscription" {
		ev.PaymentInfo = a.subscriptionPaymentInfo(ctx, session.Subscription.ID)
	} else {
		ev.PaymentInfo = a.paymentIntentInfo(ctx, session.PaymentIntent)
	}
	return ev, nil
}

// NormalizeSubscription builds a snapshot from a subscription object. overrides may be nil.
func (a *StripeAdapter) NormalizeSubscription(ctx context.Context, sub *StripeSubscription, overrides *SubscriptionOverrides) (*NormalizedSubscriptionData, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrInvalidPayload)
	}

	out := &NormalizedSubscriptionData{
		Processor:               ProcessorStripe,
		ProcessorSubscriptionID: sub.ID,
		ProcessorCustomerID:     sub.Customer.ID,
		Status:                  MapStripeSubscriptionStatus(sub.Status, sub.PauseCollection != nil),
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd || sub.CancelAt != 0,
	}

	for i, item := range sub.Items.Data {
		qty := int(item.Quantity)
		if qty <= 0 {
			qty = 1
		}
		line := SubscriptionItem{Quantity: qty}
		if item.Price != nil {
			line.PriceID = item.Price.ID
			line.PriceInCents = item.Price.UnitAmount
			line.ProductID = item.Price.Product.ID
			line.ProductName = a.productName(ctx, item.Price.Product)
		}
		out.Items = append(out.Items, line)
		out.TotalPriceInCents += line.PriceInCents * int64(qty)

		if i == 0 {
			out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
			out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	out.DeliverySchedule = deliverySchedule(sub)

	if out.Status == StatusCanceled || sub.CanceledAt != 0 {
		canceledAt := a.now().UTC()
		if sub.CanceledAt != 0 {
			canceledAt = unixTime(sub.CanceledAt)
		}
		out.CanceledAt = &canceledAt
	}
	if out.Status == StatusPaused && sub.PauseCollection != nil && sub.PauseCollection.ResumesAt != 0 {
		resumes := unixTime(sub.PauseCollection.ResumesAt)
		out.PausedUntil = &resumes
	}

	out.ShippingAddress, out.ShippingName = ParseShippingFromSubscription(sub)
	if overrides != nil {
		if overrides.ShippingAddress != nil {
			out.ShippingAddress = overrides.ShippingAddress
			out.ShippingName = overrides.ShippingName
		}
		out.CustomerPhone = overrides.CustomerPhone
	}
	return out, nil
}

// NormalizeInvoicePayment projects a paid invoice.
func (a *StripeAdapter) NormalizeInvoicePayment(ctx context.Context, inv *StripeInvoice) (*NormalizedInvoicePaymentEvent, error) {
	if inv == nil || strings.TrimSpace(inv.ID) == "" {
		return nil, fmt.Errorf("%w: invoice without id", ErrInvalidPayload)
	}

	info := a.invoicePaymentInfo(ctx, inv)
	return &NormalizedInvoicePaymentEvent{
		Processor:       ProcessorStripe,
		InvoiceID:       inv.ID,
		SubscriptionID:  ExtractSubscriptionID(inv),
		CustomerID:      inv.Customer.ID,
		CustomerEmail:   strings.TrimSpace(inv.CustomerEmail),
		PaymentInfo:     info,
		IsRenewal:       inv.BillingReason == "subscription_cycle",
		TotalInCents:    inv.Total,
		SubtotalInCents: inv.Subtotal,
	}, nil
}

// NormalizeCustomerUpdate projects a customer object.
func (a *StripeAdapter) NormalizeCustomerUpdate(c *StripeCustomer) (*NormalizedCustomerUpdate, error) {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return nil, fmt.Errorf("%w: customer without id", ErrInvalidPayload)
	}
	out := &NormalizedCustomerUpdate{
		Processor:           ProcessorStripe,
		ProcessorCustomerID: c.ID,
		Email:               strings.TrimSpace(c.Email),
		Name:                strings.TrimSpace(c.Name),
		Phone:               strings.TrimSpace(c.Phone),
	}
	if c.Shipping != nil {
		out.ShippingAddress = addressFromStripe(c.Shipping.Address)
		out.ShippingName = strings.TrimSpace(c.Shipping.Name)
		if out.Phone == "" {
			out.Phone = strings.TrimSpace(c.Shipping.Phone)
		}
	}
	return out, nil
}

// FetchSubscription loads a subscription through the lookup port with the adapter timeout.
func (a *StripeAdapter) FetchSubscription(ctx context.Context, id string) (*StripeSubscription, error) {
	if a.lookups == nil {
		return nil, fmt.Errorf("stripe lookups are not configured")
	}
	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.lookups.Subscription(lctx, id)
}

func (a *StripeAdapter) paymentIntentInfo(ctx context.Context, ref stripeRef) NormalizedPaymentInfo {
	info := NormalizedPaymentInfo{Processor: ProcessorStripe, PaymentMethod: PaymentMethodOther}
	if ref.ID == "" {
		return info
	}
	info.TransactionID = ref.ID

	var pi StripePaymentIntent
	if !ref.Decode(&pi) || (!pi.LatestCharge.Expanded() && pi.LatestCharge.ID == "") {
		fetched, err := a.fetchPaymentIntent(ctx, ref.ID)
		if err != nil {
			log.Warnf("[Billing] Payment intent %s lookup failed, card details omitted: %v", ref.ID, err)
			return info
		}
		pi = *fetched
	}
	fillFromPaymentIntent(&info, &pi)
	return info
}

// subscriptionPaymentInfo follows subscription -> latest invoice -> payment intent. A new
// subscription may not have a paid invoice yet; that leaves the fields empty.
func (a *StripeAdapter) subscriptionPaymentInfo(ctx context.Context, subscriptionID string) NormalizedPaymentInfo {
	info := NormalizedPaymentInfo{Processor: ProcessorStripe, PaymentMethod: PaymentMethodOther}
	if subscriptionID == "" || a.lookups == nil {
		return info
	}

	sub, err := a.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		log.Warnf("[Billing] Subscription %s lookup failed, payment details omitted: %v", subscriptionID, err)
		return info
	}
	if sub.LatestInvoice.ID == "" {
		return info
	}

	var inv StripeInvoice
	if !sub.LatestInvoice.Decode(&inv) || inv.Payments == nil {
		lctx, cancel := context.WithTimeout(ctx, a.timeout)
		fetched, err := a.lookups.Invoice(lctx, sub.LatestInvoice.ID)
		cancel()
		if err != nil {
			log.Warnf("[Billing] Invoice %s lookup failed, payment details omitted: %v", sub.LatestInvoice.ID, err)
			return info
		}
		inv = *fetched
	}
	return a.invoicePaymentInfo(ctx, &inv)
}

func (a *StripeAdapter) invoicePaymentInfo(ctx context.Context, inv *StripeInvoice) NormalizedPaymentInfo {
	info := NormalizedPaymentInfo{Processor: ProcessorStripe, PaymentMethod: PaymentMethodOther, InvoiceID: inv.ID}

	piRef := inv.PaymentIntent
	if inv.Payments != nil {
		for _, p := range inv.Payments.Data {
			if p.Payment.Type == "payment_intent" && p.Payment.PaymentIntent.ID != "" {
				piRef = p.Payment.PaymentIntent
				break
			}
			if p.Payment.Type == "charge" && p.Payment.Charge.ID != "" && info.ChargeID == "" {
				info.ChargeID = p.Payment.Charge.ID
			}
		}
	}
	if info.ChargeID == "" {
		info.ChargeID = inv.Charge.ID
	}
	if piRef.ID == "" {
		return info
	}

	piInfo := a.paymentIntentInfo(ctx, piRef)
	info.TransactionID = piInfo.TransactionID
	if piInfo.ChargeID != "" {
		info.ChargeID = piInfo.ChargeID
	}
	info.CardLast4 = piInfo.CardLast4
	info.PaymentMethod = piInfo.PaymentMethod
	return info
}

func (a *StripeAdapter) fetchPaymentIntent(ctx context.Context, id string) (*StripePaymentIntent, error) {
	if a.lookups == nil {
		return nil, fmt.Errorf("stripe lookups are not configured")
	}
	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.lookups.PaymentIntent(lctx, id)
}

// productName resolves a display name, degrading to PlaceholderProductName.
func (a *StripeAdapter) productName(ctx context.Context, ref stripeRef) string {
	var product StripeProduct
	if ref.Decode(&product) && strings.TrimSpace(product.Name) != "" {
		return product.Name
	}
	if ref.ID == "" || a.lookups == nil {
		return PlaceholderProductName
	}

	lctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	fetched, err := a.lookups.Product(lctx, ref.ID)
	if err != nil || fetched == nil || strings.TrimSpace(fetched.Name) == "" {
		log.Warnf("[Billing] Product %s name lookup failed, using placeholder: %v", ref.ID, err)
		return PlaceholderProductName
	}
	return fetched.Name
}

func fillFromPaymentIntent(info *NormalizedPaymentInfo, pi *StripePaymentIntent) {
	if pi.ID != "" {
		info.TransactionID = pi.ID
	}
	info.ChargeID = pi.LatestCharge.ID

	var card *StripeCard
	var charge StripeCharge
	if pi.LatestCharge.Decode(&charge) && charge.PaymentMethodDetails != nil {
		card = charge.PaymentMethodDetails.Card
	}
	var pm StripePaymentMethod
	if card == nil && pi.PaymentMethod.Decode(&pm) {
		card = pm.Card
	}
	if label := FormatCardLabel(card); label != "" {
		info.CardLast4 = label
		info.PaymentMethod = PaymentMethodCard
	}
}

// deliverySchedule prefers the metadata override, then the price nickname, then the
// recurring interval.
func deliverySchedule(sub *StripeSubscription) string {
	if v := strings.TrimSpace(sub.Metadata[metadataDeliverySchedule]); v != "" {
		return v
	}
	if len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	price := sub.Items.Data[0].Price
	if m := nicknameSchedulePattern.FindString(price.Nickname); m != "" {
		return strings.TrimSpace(m)
	}
	if price.Recurring != nil {
		return FormatBillingInterval(price.Recurring.Interval, price.Recurring.IntervalCount)
	}
	return ""
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
