package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	"grabpic/pkg/config"
)

func SetupJobRoutes(api fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	jobs := api.Group("/jobs")

	// Accessible with a staff JWT, the event admin token or the
	// dashboard key; the handler resolves which applies.
	jobs.Get("/:job_id", middleware.Optional(cfg.JWT.Secret), h.Job.Get)
	jobs.Post("/:job_id/cancel", middleware.Optional(cfg.JWT.Secret), h.Job.Cancel)
}
