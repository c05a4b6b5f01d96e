package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayHook/app/controllers"
)

type WebhookRouter struct {
	controller *controllers.WebhookController
	storage    fiber.Storage
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	if h.controller == nil {
		return
	}
	hooks := app.Group("/webhooks", newLimiter(h.storage, "WEBHOOK_RATE_LIMIT", 300))
	hooks.Post("/:processor", h.controller.HandleWebhook)
}

func NewWebhookRouter(controller *controllers.WebhookController, storage fiber.Storage) *WebhookRouter {
	return &WebhookRouter{controller: controller, storage: storage}
}
