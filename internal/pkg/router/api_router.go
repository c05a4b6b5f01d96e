package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	apiv1 "github.com/ManuelReschke/PayHook/internal/api/v1"
)

type ApiRouter struct {
	server     *apiv1.APIServer
	storage    fiber.Storage
	statsUsers map[string]string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(h.storage, "API_RATE_LIMIT", 60))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Use("/stats", basicauth.New(basicauth.Config{Users: h.statsUsers}))
	apiv1.RegisterHandlers(v1, h.server)
}

func NewApiRouter(server *apiv1.APIServer, storage fiber.Storage, statsUsers map[string]string) *ApiRouter {
	if server == nil {
		server = apiv1.NewAPIServer(nil, nil)
	}
	return &ApiRouter{server: server, storage: storage, statsUsers: statsUsers}
}
