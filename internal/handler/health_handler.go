package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// RegisterHealthRoutes wires liveness and readiness probes. Redis is an
// optional dependency of the pipeline; a nil client is simply not checked.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/healthz", HealthzHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

// RegisterMetricsRoute exposes the Prometheus registry.
func RegisterMetricsRoute(app fiber.Router, metricsHandler http.Handler) {
	app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
}

func HealthzHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true

		if sqlDB != nil {
			status := "ok"
			if err := sqlDB.PingContext(ctx); err != nil {
				status = "down"
				ready = false
			}
			checks["postgres"] = status
		}

		if rdb != nil {
			status := "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				status = "down"
				ready = false
			}
			checks["redis"] = status
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
