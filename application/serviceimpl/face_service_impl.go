package serviceimpl

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/faceengine"
	"grabpic/pkg/logger"
)

type FaceServiceImpl struct {
	faceRepo repositories.FaceRepository
	engine   *faceengine.Engine
}

func NewFaceService(faceRepo repositories.FaceRepository, engine *faceengine.Engine) services.FaceService {
	return &FaceServiceImpl{faceRepo: faceRepo, engine: engine}
}

// SearchSimilarByImage embeds the strongest face in the uploaded image
// and runs a pgvector nearest-neighbour search over the event's faces.
func (s *FaceServiceImpl) SearchSimilarByImage(ctx context.Context, eventID uuid.UUID, imageBytes []byte, limit int, threshold float64) ([]repositories.FaceSearchResult, error) {
	face, err := s.engine.EmbedSingleFace(ctx, imageBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to embed face: %w", err)
	}
	if face == nil {
		return nil, services.ErrNoFaceInSelfie
	}

	if limit <= 0 {
		limit = 20
	}
	results, err := s.faceRepo.SearchSimilarByEvent(ctx, eventID, pgvector.NewVector(face.Embedding), limit, threshold)
	if err != nil {
		return nil, fmt.Errorf("face search failed: %w", err)
	}

	logger.Face("similar_search", "Face similarity search completed", map[string]interface{}{
		"event_id": eventID.String(),
		"results":  len(results),
		"limit":    limit,
	})
	return results, nil
}

func (s *FaceServiceImpl) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return s.faceRepo.CountByEvent(ctx, eventID)
}
