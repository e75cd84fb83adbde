package repositories

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type FaceClusterRepository interface {
	// ReplaceForEvent atomically rewrites the event's clustering state:
	// delete existing clusters, null every face label, insert the new
	// clusters and apply labels (label -> member face ids). Passing no
	// clusters leaves the event unclustered.
	ReplaceForEvent(ctx context.Context, eventID uuid.UUID, clusters []*models.FaceCluster, labels map[int][]uuid.UUID) error

	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FaceCluster, error)
	CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
}
