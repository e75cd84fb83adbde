package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"grabpic/domain/models"
)

type FaceRepository interface {
	CreateBatch(ctx context.Context, faces []*models.Face) error
	GetByPhoto(ctx context.Context, photoID uuid.UUID) ([]models.Face, error)

	// ListByEvent returns all faces of the event ordered by
	// (photo_id, face_index) so clustering is deterministic.
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Face, error)

	// ListEmbeddingsByEvent selects only (photo_id, embedding) pairs; the
	// matcher scans these for every selfie.
	ListEmbeddingsByEvent(ctx context.Context, eventID uuid.UUID) ([]FaceEmbeddingRow, error)

	DeleteByPhoto(ctx context.Context, photoID uuid.UUID) error

	// Vector search - find similar faces within one event
	SearchSimilarByEvent(ctx context.Context, eventID uuid.UUID, embedding pgvector.Vector, limit int, threshold float64) ([]FaceSearchResult, error)

	CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// FaceSearchResult represents a face search result with similarity score
type FaceSearchResult struct {
	Face       models.Face
	Photo      models.Photo
	Similarity float64 // Cosine similarity (0-1, higher is more similar)
}

// FaceEmbeddingRow is the matcher's narrow face projection.
type FaceEmbeddingRow struct {
	PhotoID   uuid.UUID
	Embedding models.Vector512
}
