package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/autoflow/pkg/metrics"
	"github.com/dukex/autoflow/pkg/registry"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	services web.Services
	registry *registry.Registry
	metrics  *metrics.Metrics
}

func NewAPI(
	logger *slog.Logger,
	services web.Services,
	registry *registry.Registry,
	metrics *metrics.Metrics,
) *API {
	return &API{
		logger:   logger,
		services: services,
		registry: registry,
		metrics:  metrics,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.services, web.NewValidator(), a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	if a.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	}

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Autoflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	a.logger.Info("Starting API server", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
