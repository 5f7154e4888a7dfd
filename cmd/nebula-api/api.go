// Package main provides the Nebula API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/vanyastaff/nebulav2/pkg/eventbus"
	"github.com/vanyastaff/nebulav2/pkg/persistence"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/registry"
	"github.com/vanyastaff/nebulav2/pkg/services"
	"github.com/vanyastaff/nebulav2/pkg/state"
	"github.com/vanyastaff/nebulav2/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	states      *state.Manager
	queue       *queue.Queue
	registry    *registry.Registry
	eventBus    eventbus.EventPublisher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	states *state.Manager,
	queue *queue.Queue,
	registry *registry.Registry,
	eventBus eventbus.EventPublisher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		states:      states,
		queue:       queue,
		registry:    registry,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	workflowService := services.NewWorkflow(a.persistence, a.registry, a.logger)
	executionService := services.NewExecution(a.states, a.persistence.WorkflowRepository(), a.queue, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(workflowService, executionService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Nebula API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
