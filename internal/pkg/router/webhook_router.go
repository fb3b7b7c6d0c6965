package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/financebee/internal/pkg/ingress"
)

const defaultWebhookRateLimit = 600

type WebhookRouter struct {
	handler *ingress.Handler
	storage fiber.Storage
	max     int
}

func (w WebhookRouter) InstallRouter(app *fiber.App) {
	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        w.max,
		Expiration: time.Minute,
		Storage:    w.storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	webhooks.Post("/stripe", w.handler.HandleWebhook)
}

func NewWebhookRouter(handler *ingress.Handler, storage fiber.Storage, max int) *WebhookRouter {
	if max <= 0 {
		max = defaultWebhookRateLimit
	}
	return &WebhookRouter{handler: handler, storage: storage, max: max}
}
