package serviceimpl

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
)

type ClusterServiceImpl struct {
	faceRepo    repositories.FaceRepository
	clusterRepo repositories.FaceClusterRepository
	eps         float64
	minSamples  int
}

func NewClusterService(
	faceRepo repositories.FaceRepository,
	clusterRepo repositories.FaceClusterRepository,
	eps float64,
	minSamples int,
) services.ClusterService {
	return &ClusterServiceImpl{
		faceRepo:    faceRepo,
		clusterRepo: clusterRepo,
		eps:         eps,
		minSamples:  minSamples,
	}
}

func (s *ClusterServiceImpl) RecomputeClusters(ctx context.Context, eventID uuid.UUID) (int, error) {
	faces, err := s.faceRepo.ListByEvent(ctx, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to load event faces: %w", err)
	}

	// Too few faces to form any cluster: clear clusters and labels.
	if len(faces) < s.minSamples {
		if err := s.clusterRepo.ReplaceForEvent(ctx, eventID, nil, nil); err != nil {
			return 0, fmt.Errorf("failed to clear clusters: %w", err)
		}
		logger.Cluster("recompute", "Not enough faces to cluster", map[string]interface{}{
			"event_id": eventID.String(),
			"faces":    len(faces),
		})
		return 0, nil
	}

	vectors := make([][]float32, len(faces))
	for i := range faces {
		vectors[i] = faces[i].Embedding
	}
	labels := dbscanCosine(vectors, s.eps, s.minSamples)

	members := map[int][]uuid.UUID{}
	memberFaces := map[int][]*models.Face{}
	var labelOrder []int
	for i := range faces {
		label := labels[i]
		if label < 0 {
			continue
		}
		if _, seen := members[label]; !seen {
			labelOrder = append(labelOrder, label)
		}
		members[label] = append(members[label], faces[i].ID)
		memberFaces[label] = append(memberFaces[label], &faces[i])
	}

	clusters := make([]*models.FaceCluster, 0, len(labelOrder))
	for _, label := range labelOrder {
		group := memberFaces[label]
		centroid := meanNormalized(group)
		coverPhotoID := mostContributingPhoto(group)
		clusters = append(clusters, &models.FaceCluster{
			EventID:      eventID,
			ClusterLabel: label,
			Centroid:     centroid,
			FaceCount:    len(group),
			CoverPhotoID: coverPhotoID,
		})
	}

	if err := s.clusterRepo.ReplaceForEvent(ctx, eventID, clusters, members); err != nil {
		return 0, fmt.Errorf("failed to replace clusters: %w", err)
	}

	logger.Cluster("recompute", "Event faces clustered", map[string]interface{}{
		"event_id": eventID.String(),
		"faces":    len(faces),
		"clusters": len(clusters),
	})
	return len(clusters), nil
}

// meanNormalized computes the L2-normalized mean embedding. A zero-norm
// mean is returned as-is.
func meanNormalized(group []*models.Face) models.Vector512 {
	mean := make([]float64, models.EmbeddingDim)
	for _, face := range group {
		for i, v := range face.Embedding {
			if i >= models.EmbeddingDim {
				break
			}
			mean[i] += float64(v)
		}
	}
	n := float64(len(group))
	var norm float64
	for i := range mean {
		mean[i] /= n
		norm += mean[i] * mean[i]
	}
	out := make(models.Vector512, models.EmbeddingDim)
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range mean {
			out[i] = float32(mean[i] / norm)
		}
	} else {
		for i := range mean {
			out[i] = float32(mean[i])
		}
	}
	return out
}

// mostContributingPhoto picks the photo with the most member faces,
// first-seen winning ties.
func mostContributingPhoto(group []*models.Face) *uuid.UUID {
	if len(group) == 0 {
		return nil
	}
	counts := map[uuid.UUID]int{}
	var order []uuid.UUID
	for _, face := range group {
		if _, seen := counts[face.PhotoID]; !seen {
			order = append(order, face.PhotoID)
		}
		counts[face.PhotoID]++
	}
	best := order[0]
	for _, photoID := range order[1:] {
		if counts[photoID] > counts[best] {
			best = photoID
		}
	}
	return &best
}
