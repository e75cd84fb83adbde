package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	"grabpic/pkg/config"
)

func SetupFaceRoutes(api fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	// Staff diagnostics over an event's face index
	api.Get("/events/:event_id/faces/similar", middleware.Protected(cfg.JWT.Secret), h.Face.SearchSimilar)
}
