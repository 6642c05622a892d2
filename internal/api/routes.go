package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errDisconnected = errors.New("disconnected")

// HealthCheck reports whether one collaborator is usable.
type HealthCheck func(ctx context.Context) error

// NATSConn is the part of *nats.Conn the health check uses.
type NATSConn interface {
	IsConnected() bool
	FlushTimeout(timeout time.Duration) error
}

// NATSHealth checks a NATS connection. A nil connection is reported as disconnected.
func NATSHealth(nc NATSConn) HealthCheck {
	return func(context.Context) error {
		if nc == nil || !nc.IsConnected() {
			return errDisconnected
		}
		return nc.FlushTimeout(1 * time.Second)
	}
}

// GraphHealth checks that the graph loop still answers.
func GraphHealth(g GraphReader) HealthCheck {
	return func(ctx context.Context) error {
		_, err := g.Summary(ctx)
		return err
	}
}

func RegisterRoutes(app *fiber.App, handler *GraphHandler, checks map[string]HealthCheck) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Get("/instructions", handler.ListInstructions)
	v1.Get("/instructions/:id", handler.GetInstruction)
	v1.Get("/arbs", handler.ListArbs)
	v1.Get("/graph", handler.GetGraph)
}
