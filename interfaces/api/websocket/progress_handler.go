package websocket

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	redisinfra "grabpic/infrastructure/redis"
	"grabpic/pkg/logger"
)

// ProgressHandler streams live job progress for one event. Workers publish
// progress snapshots to the event's Redis channel; the handler relays each
// message to the client verbatim, so the wire format matches what polling
// the status endpoint would return.
type ProgressHandler struct {
	redis *redisinfra.Client
}

func NewProgressHandler(redis *redisinfra.Client) *ProgressHandler {
	return &ProgressHandler{redis: redis}
}

// Upgrade gates the route to real websocket upgrade requests
func (h *ProgressHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream relays progress messages until the client disconnects or the
// subscription drops.
func (h *ProgressHandler) Stream(c *websocket.Conn) {
	defer c.Close()

	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid event id"}`))
		return
	}

	if h.redis == nil {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"error":"progress stream unavailable"}`))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := h.redis.SubscribeProgress(ctx, eventID)
	defer sub.Close()

	logger.WebSocket("progress_subscribed", "Client subscribed to event progress", map[string]interface{}{"event_id": eventID.String()})

	// Clients never send data; reading is still the only way to observe
	// the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				logger.WebSocketError("progress_write", "WebSocket write failed", err, map[string]interface{}{"event_id": eventID.String()})
				return
			}
		}
	}
}
