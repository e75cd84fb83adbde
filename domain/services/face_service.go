package services

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/repositories"
)

type FaceService interface {
	// SearchSimilarByImage embeds the best face of the uploaded image and
	// runs a vector search over the event's indexed faces. Admin
	// diagnostics surface.
	SearchSimilarByImage(ctx context.Context, eventID uuid.UUID, imageBytes []byte, limit int, threshold float64) ([]repositories.FaceSearchResult, error)

	CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
}
