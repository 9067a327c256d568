package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/secretaria-go-api/internal/config"
	"github.com/noah-isme/secretaria-go-api/internal/handler"
	"github.com/noah-isme/secretaria-go-api/internal/middleware"
	"github.com/noah-isme/secretaria-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GuardianHandler  *handler.GuardianHandler
	StudentHandler   *handler.StudentHandler
	StatementHandler *handler.StatementHandler
	FeeHandler       *handler.FeeHandler
	PaymentHandler   *handler.PaymentHandler
	ChargeHandler    *handler.ChargeHandler
	ReportHandler    *handler.ReportHandler
	AssistantHandler *handler.AssistantHandler
	ActivityHandler  *handler.ActivityHandler
	JWTMiddleware    fiber.Handler
	HealthProbes     []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// every back-office route needs an authenticated staff member
	office := api.Group("", jwtMiddleware, middleware.RequireRole(middleware.StaffRoles...))

	if deps.GuardianHandler != nil {
		deps.GuardianHandler.Register(office.Group("/guardians"))
	}

	if deps.StudentHandler != nil {
		students := office.Group("/students")
		if deps.FeeHandler != nil {
			deps.FeeHandler.RegisterStudentRoutes(students)
		}
		deps.StudentHandler.Register(students)
		deps.StudentHandler.RegisterClasses(office.Group("/classes"))
	}

	if deps.StatementHandler != nil {
		statements := office.Group("/statements")
		if deps.PaymentHandler != nil {
			deps.PaymentHandler.RegisterStatementRoutes(statements)
		}
		deps.StatementHandler.Register(statements)
	}

	if deps.FeeHandler != nil {
		deps.FeeHandler.Register(office.Group("/fees"))
	}

	if deps.PaymentHandler != nil {
		deps.PaymentHandler.Register(office.Group("/payments"))
	}

	if deps.ChargeHandler != nil {
		deps.ChargeHandler.Register(office.Group("/charges"))
	}

	if deps.ReportHandler != nil {
		deps.ReportHandler.Register(office.Group("/reports"))
	}

	if deps.AssistantHandler != nil {
		assistant := office.Group("/assistant", middleware.RateLimit("assistant", 20, time.Minute))
		deps.AssistantHandler.Register(assistant)
	}

	if deps.ActivityHandler != nil {
		deps.ActivityHandler.Register(office.Group("/activity"))
	}
}
