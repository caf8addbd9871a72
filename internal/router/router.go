package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lamba-project/lamba-api/internal/config"
	"github.com/lamba-project/lamba-api/internal/handler"
	"github.com/lamba-project/lamba-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	LTIHandler        *handler.LTIHandler
	ActivityHandler   *handler.ActivityHandler
	SubmissionHandler *handler.SubmissionHandler
	EvaluationHandler *handler.EvaluationHandler
	GradeHandler      *handler.GradeHandler
	SessionMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	sessionMiddleware := deps.SessionMiddleware
	if sessionMiddleware == nil {
		sessionMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// The launch endpoint authenticates through its OAuth signature, all
	// other LTI routes need the launch session.
	if deps.LTIHandler != nil {
		lti := app.Group("/lti")
		deps.LTIHandler.RegisterPublic(lti)
		deps.LTIHandler.Register(lti.Group("", sessionMiddleware))
	}

	if deps.ActivityHandler != nil {
		activities := api.Group("/activities", sessionMiddleware)
		deps.ActivityHandler.Register(activities)
	}

	if deps.SubmissionHandler != nil {
		submissions := api.Group("/submissions", sessionMiddleware)
		deps.SubmissionHandler.Register(submissions)
	}

	if deps.EvaluationHandler != nil {
		evaluations := api.Group("/evaluations", sessionMiddleware)
		deps.EvaluationHandler.Register(evaluations)
	}

	if deps.GradeHandler != nil {
		grades := api.Group("/grades", sessionMiddleware)
		deps.GradeHandler.Register(grades)
	}
}
