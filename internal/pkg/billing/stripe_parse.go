package billing

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

const (
	metadataCartItems        = "cartItems"
	metadataDeliveryMethod   = "deliveryMethod"
	metadataDeliverySchedule = "deliverySchedule"
	metadataShippingAddress  = "shipping_address"
)

// SessionShipping is the ship-to block of a checkout session.
type SessionShipping struct {
	Address *Address
	Name    string
}

// ParseCartMetadata decodes the compact cart blob ([{"po":"...","qty":N}]) stored in
// session metadata. Malformed JSON yields an empty list.
func ParseCartMetadata(session *StripeCheckoutSession) []CartItem {
	if session == nil {
		return []CartItem{}
	}
	raw := strings.TrimSpace(session.Metadata[metadataCartItems])
	if raw == "" {
		log.Warnf("[Billing] Session %s has no cart metadata", session.ID)
		return []CartItem{}
	}

	var entries []struct {
		PO  string `json:"po"`
		Qty int    `json:"qty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Warnf("[Billing] Session %s has malformed cart metadata: %v", session.ID, err)
		return []CartItem{}
	}

	items := make([]CartItem, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.PO)
		if id == "" || e.Qty <= 0 {
			log.Warnf("[Billing] Session %s: skipping cart entry po=%q qty=%d", session.ID, e.PO, e.Qty)
			continue
		}
		items = append(items, CartItem{PurchaseOptionID: id, Quantity: e.Qty})
	}
	return items
}

// ParseDeliveryMethod reads metadata.deliveryMethod, defaulting to DELIVERY.
func ParseDeliveryMethod(metadata map[string]string) string {
	if strings.EqualFold(strings.TrimSpace(metadata[metadataDeliveryMethod]), DeliveryMethodPickup) {
		return DeliveryMethodPickup
	}
	return DeliveryMethodDelivery
}

// ParseShippingFromSession reads the ship-to address from the session's collected
// shipping details only. customer_details.address is the billing address and is never
// used here.
func ParseShippingFromSession(session *StripeCheckoutSession) SessionShipping {
	var out SessionShipping
	if session == nil {
		return out
	}

	var details *StripeShippingDetails
	if session.CollectedInformation != nil {
		details = session.CollectedInformation.ShippingDetails
	}
	if details != nil {
		out.Address = addressFromStripe(details.Address)
		out.Name = strings.TrimSpace(details.Name)
	}
	if out.Name == "" && session.CustomerDetails != nil {
		out.Name = strings.TrimSpace(session.CustomerDetails.Name)
	}
	return out
}

// ParseShippingFromSubscription decodes the shipping blob the storefront keeps in
// subscription metadata. It returns nil when the blob is absent or unreadable.
func ParseShippingFromSubscription(sub *StripeSubscription) (*Address, string) {
	if sub == nil {
		return nil, ""
	}
	raw := strings.TrimSpace(sub.Metadata[metadataShippingAddress])
	if raw == "" {
		return nil, ""
	}

	var blob struct {
		Name *string `json:"name"`
		StripeAddress
	}
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		log.Warnf("[Billing] Subscription %s has malformed shipping metadata: %v", sub.ID, err)
		return nil, ""
	}
	name := ""
	if blob.Name != nil {
		name = strings.TrimSpace(*blob.Name)
	}
	return addressFromStripe(&blob.StripeAddress), name
}

// invoiceSubscriptionShapes lists the places Stripe has put an invoice's subscription
// across API versions, in the order they are tried.
var invoiceSubscriptionShapes = []struct {
	name    string
	extract func(inv *StripeInvoice) string
}{
	{name: "subscription_string", extract: func(inv *StripeInvoice) string {
		return refString(inv.Subscription)
	}},
	{name: "subscription_object", extract: func(inv *StripeInvoice) string {
		return refObjectID(inv.Subscription)
	}},
	{name: "parent_subscription_details", extract: func(inv *StripeInvoice) string {
		if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil {
			return ""
		}
		raw := inv.Parent.SubscriptionDetails.Subscription
		if id := refString(raw); id != "" {
			return id
		}
		return refObjectID(raw)
	}},
}

// ExtractSubscriptionID returns the first subscription id found on the invoice.
func ExtractSubscriptionID(inv *StripeInvoice) string {
	if inv == nil {
		return ""
	}
	for _, shape := range invoiceSubscriptionShapes {
		if id := shape.extract(inv); id != "" {
			log.Debugf("[Billing] Invoice %s subscription resolved via %s", inv.ID, shape.name)
			return id
		}
	}
	return ""
}

func refString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func refObjectID(raw json.RawMessage) string {
	var obj struct {
		ID string `json:"id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return ""
	}
	return strings.TrimSpace(obj.ID)
}

func addressFromStripe(a *StripeAddress) *Address {
	if a == nil {
		return nil
	}
	out := Address{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	if out.IsZero() {
		return nil
	}
	return &out
}
