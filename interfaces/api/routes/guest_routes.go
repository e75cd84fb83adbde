package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	"grabpic/pkg/config"
)

func SetupGuestRoutes(api fiber.Router, h *handlers.Handlers, rateLimit *config.RateLimitConfig) {
	guest := api.Group("/guest")

	// No JWT here; guests authenticate with the per-event guest code
	guest.Post("/:slug/match", middleware.GuestRateLimiter(rateLimit), h.Guest.SubmitSelfie)
	guest.Get("/:slug/queries/:query_id", h.Guest.GetMatch)
}
