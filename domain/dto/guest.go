package dto

import (
	"github.com/google/uuid"
)

// GuestSubmitResponse acknowledges a selfie upload. The guest polls the
// query endpoint (or the websocket) with the returned id.
type GuestSubmitResponse struct {
	QueryID uuid.UUID `json:"query_id"`
	Status  string    `json:"status"`
	Message string    `json:"message"`
}
