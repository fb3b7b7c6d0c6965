package main

import (
	"fmt"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/financebee/internal/pkg/cache"
	"github.com/ManuelReschke/financebee/internal/pkg/config"
	"github.com/ManuelReschke/financebee/internal/pkg/env"
	"github.com/ManuelReschke/financebee/internal/pkg/ingress"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
	"github.com/ManuelReschke/financebee/internal/pkg/router"
)

// bodyLimit sits above the guardian's payload cap so oversized deliveries
// are still enqueued and rejected with a reason.
const bodyLimit = 1024 * 1024

func main() {
	app, cfg := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *config.Config) {
	env.SetupEnvFile()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[Ingress] %v", err)
	}
	rdb := cache.SetupCache(cfg)
	queue := jobqueue.NewClient(rdb,
		jobqueue.WithMaxExecTime(cfg.TaskMaxExecTime),
		jobqueue.WithMaxAttempts(cfg.TaskMaxAttempts),
	)

	// Define possible base paths
	basePaths := []string{
		"./",     // Current directory
		"../../", // From cmd/ingress to project root
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[Ingress] openapi.yml not found, API docs disabled")
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhook:          ingress.NewHandler(queue, cfg.QueueName, cfg.WebhookSecret),
		Queue:            queue,
		Redis:            rdb,
		QueueName:        cfg.QueueName,
		Workers:          []string{cfg.WorkerIdentity},
		AdminUser:        cfg.AdminUser,
		AdminPassword:    cfg.AdminPassword,
		LimiterStorage:   router.NewLimiterStorage(rdb),
		WebhookRateLimit: cfg.WebhookRateLimit,
	})

	return app, cfg
}
