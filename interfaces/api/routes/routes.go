package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	apiws "grabpic/interfaces/api/websocket"
	"grabpic/pkg/config"
)

func SetupRoutes(app *fiber.App, h *handlers.Handlers, ws *apiws.ProgressHandler, cfg *config.Config) {
	// Setup health and root routes
	SetupHealthRoutes(app, h.Health)

	// Thumbnails and derived media live under the storage root
	app.Static("/storage", cfg.Storage.Root)

	// API version group
	api := app.Group("/api/v1", middleware.RateLimiter(&cfg.RateLimit))

	// Setup all route groups
	SetupAuthRoutes(api, h, cfg)
	SetupEventRoutes(api, h, cfg)
	SetupJobRoutes(api, h, cfg)
	SetupGuestRoutes(api, h, &cfg.RateLimit)
	SetupFaceRoutes(api, h, cfg)
	SetupLogRoutes(api, h)

	// Setup WebSocket routes (needs app, not api group)
	SetupWebSocketRoutes(app, ws)
}
