package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type HealthRouter struct {
	rdb *redis.Client
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", h.handleHealth)
}

// handleHealth reports 503 while the queue endpoint is unreachable, since
// every delivery would be answered with 503 anyway.
func (h HealthRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "queue": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func NewHealthRouter(rdb *redis.Client) *HealthRouter {
	return &HealthRouter{rdb: rdb}
}
