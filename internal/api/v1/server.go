package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong defines model for Pong.
type Pong struct {
	Ping string `json:"ping"`
}

// Error defines model for Error.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// QueueStats defines model for QueueStats.
type QueueStats struct {
	Pending    int64            `json:"pending"`
	Processing int64            `json:"processing"`
	Jobs       map[string]int64 `json:"jobs"`
}

// WebhookStat defines model for WebhookStat.
type WebhookStat struct {
	Day       string `json:"day"`
	Processor string `json:"processor"`
	Outcome   string `json:"outcome"`
	Count     int64  `json:"count"`
}

// WebhookStats defines model for WebhookStats.
type WebhookStats struct {
	From   string           `json:"from"`
	To     string           `json:"to"`
	Totals map[string]int64 `json:"totals"`
	Days   []WebhookStat    `json:"days"`
}

// GetWebhookStatsParams defines parameters for GetWebhookStats.
type GetWebhookStatsParams struct {
	// From First day (YYYY-MM-DD), inclusive.
	From *string `form:"from,omitempty" json:"from,omitempty"`
	// To Last day (YYYY-MM-DD), inclusive.
	To *string `form:"to,omitempty" json:"to,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /stats/queue)
	GetQueueStats(c *fiber.Ctx) error
	// (GET /stats/webhooks)
	GetWebhookStats(c *fiber.Ctx, params GetWebhookStatsParams) error
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

// MiddlewareFunc is a middleware applied to every operation.
type MiddlewareFunc fiber.Handler

// GetPing operation middleware
func (siw *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error {
	return siw.Handler.GetPing(c)
}

// GetQueueStats operation middleware
func (siw *ServerInterfaceWrapper) GetQueueStats(c *fiber.Ctx) error {
	return siw.Handler.GetQueueStats(c)
}

// GetWebhookStats operation middleware
func (siw *ServerInterfaceWrapper) GetWebhookStats(c *fiber.Ctx) error {
	var params GetWebhookStatsParams
	if v := c.Query("from"); v != "" {
		params.From = &v
	}
	if v := c.Query("to"); v != "" {
		params.To = &v
	}
	return siw.Handler.GetWebhookStats(c, params)
}

// FiberServerOptions provides options for the Fiber server.
type FiberServerOptions struct {
	BaseURL     string
	Middlewares []MiddlewareFunc
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, FiberServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options FiberServerOptions) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	for _, m := range options.Middlewares {
		router.Use(fiber.Handler(m))
	}

	router.Get(options.BaseURL+"/ping", wrapper.GetPing)
	router.Get(options.BaseURL+"/stats/queue", wrapper.GetQueueStats)
	router.Get(options.BaseURL+"/stats/webhooks", wrapper.GetWebhookStats)
}
