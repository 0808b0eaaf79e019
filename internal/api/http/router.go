package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/workorder-service/internal/api/http/handlers"
	"github.com/spec-kit/workorder-service/internal/auth"
	"github.com/spec-kit/workorder-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	WorkOrders     *handlers.WorkOrdersHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	wo := app.Group("/work-orders", cfg.AuthMiddleware.Handle, auth.RequireRole())
	wo.Post("", cfg.WorkOrders.Create)
	wo.Get("", cfg.WorkOrders.List)
	wo.Get("/number/:number", cfg.WorkOrders.GetByNumber)
	wo.Get("/:id", cfg.WorkOrders.Get)
	wo.Post("/:id/assign", cfg.WorkOrders.Assign)
	wo.Post("/:id/reassign", cfg.WorkOrders.Reassign)
	wo.Post("/:id/start", cfg.WorkOrders.Start)
	wo.Post("/:id/progress", cfg.WorkOrders.AddProgress)
	wo.Post("/:id/complete", cfg.WorkOrders.Complete)
	wo.Post("/:id/cancel", cfg.WorkOrders.Cancel)
	wo.Post("/:id/close", cfg.WorkOrders.Close)
	wo.Get("/:id/assignments", cfg.WorkOrders.Assignments)
	wo.Get("/:id/progress", cfg.WorkOrders.Progress)
	wo.Get("/:id/timeline", cfg.WorkOrders.Timeline)
	wo.Get("/:id/verify", auth.RequireRole(domain.ActorRoleManager), cfg.WorkOrders.VerifyProjection)
}
