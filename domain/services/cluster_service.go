package services

import (
	"context"

	"github.com/google/uuid"
)

type ClusterService interface {
	// RecomputeClusters rewrites the event's face clustering in one
	// transaction: DBSCAN over all embeddings (cosine distance), noise
	// faces get a null label, each cluster gets an L2-normalized mean
	// centroid and the most-contributing photo as cover. Returns the
	// cluster count.
	RecomputeClusters(ctx context.Context, eventID uuid.UUID) (int, error)
}
