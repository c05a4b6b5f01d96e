package effects

// Kind identifies a side effect.
type Kind string

const (
	KindDecrementStock Kind = "decrement_stock"
	KindSendEmail      Kind = "send_email"
)

// Email templates the reconciliation engine asks for.
const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateMerchantOrder     = "merchant_order_notification"
	TemplateMerchantRenewal   = "merchant_renewal_notification"
)

// Command is an inert description of a side effect. IdempotencyKey is stable across
// redeliveries of the same upstream event so executors can deduplicate.
type Command interface {
	Kind() Kind
	IdempotencyKey() string
}

// DecrementStock removes Quantity units of a variant from inventory.
type DecrementStock struct {
	Key       string `json:"key"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (c DecrementStock) Kind() Kind             { return KindDecrementStock }
func (c DecrementStock) IdempotencyKey() string { return c.Key }

// SendEmail renders Template with Data and sends it to Recipient.
type SendEmail struct {
	Key       string                 `json:"key"`
	Template  string                 `json:"template"`
	Recipient string                 `json:"recipient"`
	Data      map[string]interface{} `json:"data"`
}

func (c SendEmail) Kind() Kind             { return KindSendEmail }
func (c SendEmail) IdempotencyKey() string { return c.Key }

// Count returns how many commands of kind k are in cmds.
func Count(cmds []Command, k Kind) int {
	n := 0
	for _, c := range cmds {
		if c.Kind() == k {
			n++
		}
	}
	return n
}
