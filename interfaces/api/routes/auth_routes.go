package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
	"grabpic/interfaces/api/middleware"
	"grabpic/pkg/config"
)

func SetupAuthRoutes(api fiber.Router, h *handlers.Handlers, cfg *config.Config) {
	auth := api.Group("/auth")

	auth.Post("/login", middleware.AuthRateLimiter(&cfg.RateLimit), h.Auth.Login)

	// Protected routes
	auth.Get("/me", middleware.Protected(cfg.JWT.Secret), h.Auth.Me)
	auth.Post("/users", middleware.Protected(cfg.JWT.Secret), middleware.RequireSuperAdmin(), h.Auth.CreateUser)
}
