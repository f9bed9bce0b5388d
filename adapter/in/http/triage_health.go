package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"triage_server/adapter/in/worker"
	"triage_server/pkg/metrics"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db       *pgxpool.Pool
	redis    *redis.Client
	watchdog *worker.Watchdog
}

// NewHealthHandler creates the handler. Any dependency may be nil; it is
// then reported as not configured instead of failing the probe.
func NewHealthHandler(db *pgxpool.Pool, redis *redis.Client, watchdog *worker.Watchdog) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, watchdog: watchdog}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["postgres"] = "healthy"
		}
	} else {
		checks["postgres"] = "not configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	response := fiber.Map{
		"status":    status,
		"checks":    checks,
		"pools":     metrics.GetAllPoolHealth(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.watchdog != nil {
		response["watchdog"] = h.watchdog.Status()
	}

	return c.Status(statusCode).JSON(response)
}
