package reconcile

import (
	"fmt"

	"github.com/ManuelReschke/PayHook/app/models"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/effects"
)

// Command keys are "<processor>:<natural key>:<kind>:<position>" so a redelivered event
// produces the same keys.
func commandKey(processor, naturalKey, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", processor, naturalKey, suffix)
}

func (e *Engine) checkoutCommands(ev *billing.NormalizedCheckoutEvent, order *models.Order, out *Outcome) []effects.Command {
	cmds := make([]effects.Command, 0, len(order.Items)+2)
	for i, item := range order.Items {
		cmds = append(cmds, effects.DecrementStock{
			Key:       commandKey(ev.Processor, ev.SessionID, fmt.Sprintf("stock:%d", i)),
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}

	data := orderEmailData(order)
	data["customer_name"] = ev.Customer.Name
	if order.SubscriptionID != "" {
		data["subscription"] = true
	}

	if order.CustomerEmail != "" {
		cmds = append(cmds, effects.SendEmail{
			Key:       commandKey(ev.Processor, ev.SessionID, "email:customer"),
			Template:  effects.TemplateOrderConfirmation,
			Recipient: order.CustomerEmail,
			Data:      data,
		})
	} else {
		out.warn("session %s: no customer email, confirmation not sent", ev.SessionID)
	}

	if e.merchantEmail != "" {
		cmds = append(cmds, effects.SendEmail{
			Key:       commandKey(ev.Processor, ev.SessionID, "email:merchant"),
			Template:  effects.TemplateMerchantOrder,
			Recipient: e.merchantEmail,
			Data:      data,
		})
	} else {
		out.warn("session %s: MERCHANT_EMAIL not set, merchant notification not sent", ev.SessionID)
	}
	return cmds
}

func (e *Engine) renewalCommands(ev *billing.NormalizedInvoicePaymentEvent, order *models.Order) []effects.Command {
	cmds := make([]effects.Command, 0, len(order.Items)+1)
	for i, item := range order.Items {
		cmds = append(cmds, effects.DecrementStock{
			Key:       commandKey(ev.Processor, ev.InvoiceID, fmt.Sprintf("stock:%d", i)),
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	if e.merchantEmail != "" {
		data := orderEmailData(order)
		data["subscription_id"] = order.SubscriptionID
		cmds = append(cmds, effects.SendEmail{
			Key:       commandKey(ev.Processor, ev.InvoiceID, "email:merchant"),
			Template:  effects.TemplateMerchantRenewal,
			Recipient: e.merchantEmail,
			Data:      data,
		})
	}
	return cmds
}

func orderEmailData(order *models.Order) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]interface{}{
			"name":           item.ProductName,
			"quantity":       item.Quantity,
			"price_in_cents": item.PriceInCents,
		})
	}
	data := map[string]interface{}{
		"order_number":      order.PublicID,
		"customer_email":    order.CustomerEmail,
		"items":             items,
		"total_in_cents":    order.TotalInCents,
		"shipping_in_cents": order.ShippingInCents,
		"discount_in_cents": order.DiscountInCents,
		"delivery_method":   order.DeliveryMethod,
	}
	if order.ShippingStreet != "" {
		data["shipping"] = map[string]interface{}{
			"name":        order.RecipientName,
			"street":      order.ShippingStreet,
			"city":        order.ShippingCity,
			"state":       order.ShippingState,
			"postal_code": order.ShippingPostalCode,
			"country":     order.ShippingCountry,
		}
	}
	return data
}
