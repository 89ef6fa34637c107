package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"messagepusher/internal/observability"
)

// SetupMiddleware wires the ambient request pipeline every route sits
// behind: panic recovery, request ids, permissive CORS (the ingress is a
// machine-to-machine push API, not a browser app), structured access
// logging, and Prometheus request metrics.
func SetupMiddleware(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics) {
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		)

		if metrics != nil {
			statusStr := strconv.Itoa(status)
			metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), c.Route().Path, statusStr).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Method(), c.Route().Path).Observe(duration.Seconds())
		}
		return err
	})
}
