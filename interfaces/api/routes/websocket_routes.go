package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	apiws "grabpic/interfaces/api/websocket"
)

func SetupWebSocketRoutes(app *fiber.App, ws *apiws.ProgressHandler) {
	app.Use("/ws/events/:event_id/progress", ws.Upgrade)
	app.Get("/ws/events/:event_id/progress", websocket.New(ws.Stream))
}
