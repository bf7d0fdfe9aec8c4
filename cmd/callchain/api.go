package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/callchain/pkg/engine"
	"github.com/dukex/callchain/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewAPI(e *engine.Engine, log *slog.Logger) *API {
	return &API{
		engine: e,
		logger: log,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine.Runner, a.engine.Contexts, a.engine.Manager, a.engine.Validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Callchain Engine")
	})

	handlers.Routes(app.Group("/contexts"))

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		err := app.Shutdown()
		if err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
