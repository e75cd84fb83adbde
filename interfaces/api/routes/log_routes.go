package routes

import (
	"github.com/gofiber/fiber/v2"

	"grabpic/interfaces/api/handlers"
)

func SetupLogRoutes(api fiber.Router, h *handlers.Handlers) {
	admin := api.Group("/admin")

	// Guarded by the dashboard key inside the handler
	admin.Get("/logs", h.Log.GetLogs)
	admin.Get("/logs/files", h.Log.GetLogFiles)
	admin.Get("/logs/stats", h.Log.GetLogStats)
}
