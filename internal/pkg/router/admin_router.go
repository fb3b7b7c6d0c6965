package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/financebee/internal/pkg/heartbeat"
)

type AdminRouter struct {
	deps Dependencies
}

func (a AdminRouter) InstallRouter(app *fiber.App) {
	if a.deps.AdminUser == "" || a.deps.AdminPassword == "" {
		log.Warn("[Router] ADMIN_USER/ADMIN_PASSWORD not set, admin routes disabled")
		return
	}

	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			a.deps.AdminUser: a.deps.AdminPassword,
		},
	})

	// fiber metrics
	app.Get("/metrics", auth, monitor.New())

	admin := app.Group("/admin", auth)
	admin.Get("/queue", a.handleQueueStatus)
}

type workerStatus struct {
	Name  string           `json:"name"`
	Alive bool             `json:"alive"`
	Stats map[string]int64 `json:"stats"`
}

func (a AdminRouter) handleQueueStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	stats, err := a.deps.Queue.Stats(ctx, a.deps.QueueName)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue_unavailable"})
	}

	workers := make([]workerStatus, 0, len(a.deps.Workers))
	for _, name := range a.deps.Workers {
		ws := workerStatus{Name: name}
		if ws.Alive, err = heartbeat.IsAlive(ctx, a.deps.Redis, name); err != nil {
			log.Warnf("[Router] Heartbeat lookup for %s failed: %v", name, err)
		}
		if ws.Stats, err = heartbeat.Stats(ctx, a.deps.Redis, name); err != nil {
			log.Warnf("[Router] Stats lookup for %s failed: %v", name, err)
		}
		workers = append(workers, ws)
	}

	return c.JSON(fiber.Map{
		"queue":   a.deps.QueueName,
		"stats":   stats,
		"workers": workers,
	})
}

func NewAdminRouter(deps Dependencies) *AdminRouter {
	return &AdminRouter{deps: deps}
}
