package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
)

func SetupHealthRoutes(app *fiber.App, healthHandler *handlers.HealthHandler) {
	app.Get("/health", healthHandler.Health)

	// Detailed health check (checks all components)
	app.Get("/health/detailed", healthHandler.DetailedHealth)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "GrabPic API",
			"docs":    "/api/v1",
			"health":  "/health",
		})
	})
}
