package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/PayHook/internal/api/v1"
	"github.com/ManuelReschke/PayHook/app/controllers"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and shared middleware state the routers mount.
type Dependencies struct {
	Webhooks *controllers.WebhookController
	API      *apiv1.APIServer
	// LimiterStorage backs rate limiting; nil keeps counters in process memory.
	LimiterStorage fiber.Storage
	// StatsUsers guards the stats endpoints with basic auth.
	StatsUsers map[string]string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app,
		NewWebhookRouter(deps.Webhooks, deps.LimiterStorage),
		NewApiRouter(deps.API, deps.LimiterStorage, deps.StatsUsers),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
