package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayHook/app/controllers"
	"github.com/ManuelReschke/PayHook/app/repository"
	apiv1 "github.com/ManuelReschke/PayHook/internal/api/v1"
	"github.com/ManuelReschke/PayHook/internal/pkg/archive"
	"github.com/ManuelReschke/PayHook/internal/pkg/billing"
	"github.com/ManuelReschke/PayHook/internal/pkg/cache"
	"github.com/ManuelReschke/PayHook/internal/pkg/database"
	"github.com/ManuelReschke/PayHook/internal/pkg/effects"
	"github.com/ManuelReschke/PayHook/internal/pkg/env"
	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayHook/internal/pkg/mail"
	metrics "github.com/ManuelReschke/PayHook/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayHook/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayHook/internal/pkg/router"
	"github.com/ManuelReschke/PayHook/internal/pkg/webhook"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	flog.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
		flog.Errorf("[Main] HTTP shutdown: %v", err)
	}
	manager.Stop()
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalRepositories()
	manager := jobqueue.GetManager()
	queue := manager.GetQueue()

	// side effects run as jobs
	renderer, err := mail.NewRenderer()
	if err != nil {
		panic(err)
	}
	effects.NewExecutor(repos.Inventory, mail.NewSMTPMailer(mail.LoadConfig()), renderer).Register(queue)

	// stripe
	var lookups billing.StripeLookups
	if api, err := billing.NewStripeAPI(env.GetEnv("STRIPE_SECRET_KEY", "")); err != nil {
		flog.Warnf("[Main] Stripe API lookups disabled: %v", err)
	} else {
		lookups = api
	}
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		flog.Warn("[Main] STRIPE_WEBHOOK_SECRET is not set, stripe deliveries will be refused")
	}
	stripeProcessor := billing.NewStripeProcessor(
		billing.NewStripeVerifier(secret),
		billing.NewStripeAdapter(lookups, env.GetDuration("STRIPE_LOOKUP_TIMEOUT", 10*time.Second)),
	)

	engine := reconcile.NewEngine(repos.Commerce, env.GetEnv("MERCHANT_EMAIL", ""))
	service := webhook.NewService(repos.WebhookEvent, engine, effects.NewQueueDispatcher(queue), stripeProcessor).
		WithOutcomeCounter(metrics.AddWebhookOutcome)

	// raw payload archive
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		panic(err)
	}
	if archiveCfg.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		client, err := archive.NewClient(ctx, archiveCfg)
		cancel()
		if err != nil {
			flog.Errorf("[Main] Webhook archive disabled: %v", err)
		} else {
			archive.NewArchiver(client, repos.WebhookEvent).Register(queue)
			service.WithArchive(queue)
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // processor payloads stay well below 1 MiB
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	statsUsers := router.StatsUsers()

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: statsUsers,
	}), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "public/docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhooks:       controllers.NewWebhookController(service),
		API:            apiv1.NewAPIServer(queue, repos.WebhookStats),
		LimiterStorage: router.LimiterStorage(),
		StatsUsers:     statsUsers,
	})

	return app, manager
}
