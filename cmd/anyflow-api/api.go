// Package main provides the anyflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/anyflow/pkg/eventbus"
	"github.com/dukex/anyflow/pkg/persistence"
	"github.com/dukex/anyflow/pkg/registry"
	"github.com/dukex/anyflow/pkg/services"
	"github.com/dukex/anyflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger        *slog.Logger
	persistence   persistence.Persistence
	registry      *registry.Registry
	eventBus      eventbus.EventBus
	authenticator web.Authenticator
	tracer        trace.Tracer
	validate      *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	authenticator web.Authenticator,
	tracer trace.Tracer,
) *API {
	return &API{
		persistence:   persistence,
		logger:        logger,
		registry:      registry,
		eventBus:      eventBus,
		authenticator: authenticator,
		tracer:        tracer,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	var opts []services.Option
	if a.tracer != nil {
		opts = append(opts, services.WithTracer(a.tracer))
	}

	if a.eventBus != nil {
		opts = append(opts, services.WithPublisher(a.eventBus))
	}

	flowService := services.NewFlow(a.persistence, a.registry, a.logger, opts...)

	handlers := web.NewAPIHandlers(flowService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("anyflow API")
	})

	web.RegisterRoutes(app, handlers, web.RequireSession(a.authenticator))

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
