package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-exam-grader/internal/config"
	"github.com/noah-isme/gema-exam-grader/internal/handler"
	"github.com/noah-isme/gema-exam-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	JWTMiddleware  fiber.Handler
	HealthProbes   map[string]handler.HealthProbe
	// ExposeMetrics mounts the Prometheus scrape endpoint at /metrics.
	ExposeMetrics bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.GradingHandler != nil {
		grading := app.Group("/api/v2/grading", jwtMiddleware)
		deps.GradingHandler.Register(grading)
	}
}
