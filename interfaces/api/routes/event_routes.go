package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	"grabpic/pkg/config"
)

func SetupEventRoutes(api fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	events := api.Group("/events")

	// Staff-only surface
	events.Post("/", middleware.Protected(cfg.JWT.Secret), h.Event.Create)
	events.Get("/", middleware.Protected(cfg.JWT.Secret), h.Event.List)
	events.Patch("/:event_id", middleware.Protected(cfg.JWT.Secret), h.Event.Update)
	events.Delete("/:event_id", middleware.Protected(cfg.JWT.Secret), h.Event.Delete)

	// Admin surface: staff JWT or the event admin token. Optional parses
	// the JWT when present; the handler resolves the rest.
	events.Get("/:event_id", middleware.Optional(cfg.JWT.Secret), h.Event.Get)
	events.Post("/:event_id/resync", middleware.Optional(cfg.JWT.Secret), h.Event.Resync)
	events.Get("/:event_id/status", middleware.Optional(cfg.JWT.Secret), h.Event.Status)
	events.Post("/:event_id/cancel", middleware.Optional(cfg.JWT.Secret), h.Event.Cancel)
}
