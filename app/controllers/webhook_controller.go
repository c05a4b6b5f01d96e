package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayHook/internal/pkg/webhook"
)

const webhookTimeout = 15 * time.Second

// WebhookController exposes the webhook service over HTTP.
type WebhookController struct {
	service *webhook.Service
	timeout time.Duration
}

func NewWebhookController(service *webhook.Service) *WebhookController {
	return &WebhookController{service: service, timeout: webhookTimeout}
}

// HandleWebhook accepts POST /webhooks/:processor. The body must reach the verifier
// byte-for-byte, so it is copied out of fiber's reusable buffer before anything else.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	name := c.Params("processor")
	rawBody := append([]byte(nil), c.BodyRaw()...)

	signature := ""
	if p, ok := wc.service.Processor(name); ok {
		signature = c.Get(p.SignatureHeader())
	}

	ctx, cancel := context.WithTimeout(context.Background(), wc.timeout)
	defer cancel()

	res, err := wc.service.Handle(ctx, name, rawBody, signature)
	if err != nil {
		return c.Status(webhook.StatusFor(err)).JSON(fiber.Map{"error": errorCode(err)})
	}

	body := fiber.Map{
		"received": true,
		"outcome":  res.Outcome,
	}
	if res.EventID != "" {
		body["event_id"] = res.EventID
	}
	if res.OrderID != "" {
		body["order_id"] = res.OrderID
	}
	if len(res.Warnings) > 0 {
		body["warnings"] = len(res.Warnings)
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, webhook.ErrUnknownProcessor):
		return "unknown_processor"
	case errors.Is(err, billing.ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, billing.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, billing.ErrMisconfiguredSecret):
		return "webhook_not_configured"
	case errors.Is(err, billing.ErrInvalidPayload):
		return "invalid_payload"
	case reconcile.IsTerminal(err):
		return "unprocessable_event"
	default:
		return "webhook_processing_failed"
	}
}
