package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"messagepusher/internal/observability"
)

// SetupRoutes wires the ingress surface: health/readiness probes,
// Prometheus scrape endpoint, and the two authenticated push/message-
// status endpoints spec.md §6 names.
func SetupRoutes(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, handlers *Handlers) {
	SetupMiddleware(app, logger, metrics)

	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/readyz", handlers.ReadyCheck)
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")
	v1.Post("/push", handlers.Push)
	v1.Get("/push", handlers.Push)
	v1.Get("/message/:id", handlers.GetMessage)
}
