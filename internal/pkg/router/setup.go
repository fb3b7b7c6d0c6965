package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/financebee/internal/pkg/ingress"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handles the ingress routes need.
type Dependencies struct {
	Webhook   *ingress.Handler
	Queue     *jobqueue.Client
	Redis     *redis.Client
	QueueName string
	// Workers lists executor identities shown on the admin status page.
	Workers []string

	AdminUser     string
	AdminPassword string

	// LimiterStorage backs the webhook rate limiter; nil keeps counters in memory.
	LimiterStorage   fiber.Storage
	WebhookRateLimit int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Health first so it is never behind the limiter or basic auth.
	setup(app,
		NewHealthRouter(deps.Redis),
		NewWebhookRouter(deps.Webhook, deps.LimiterStorage, deps.WebhookRateLimit),
		NewAdminRouter(deps),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
