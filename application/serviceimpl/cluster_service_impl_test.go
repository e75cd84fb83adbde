package serviceimpl

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grabpic/domain/models"
)

type fakeClusterRepo struct {
	eventID  uuid.UUID
	clusters []*models.FaceCluster
	labels   map[int][]uuid.UUID
	calls    int
}

func (f *fakeClusterRepo) ReplaceForEvent(ctx context.Context, eventID uuid.UUID, clusters []*models.FaceCluster, labels map[int][]uuid.UUID) error {
	f.eventID = eventID
	f.clusters = clusters
	f.labels = labels
	f.calls++
	return nil
}
func (f *fakeClusterRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FaceCluster, error) {
	out := make([]models.FaceCluster, 0, len(f.clusters))
	for _, c := range f.clusters {
		out = append(out, *c)
	}
	return out, nil
}
func (f *fakeClusterRepo) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return int64(len(f.clusters)), nil
}

type listFaceRepo struct {
	fakeFaceRepo
	faces []models.Face
}

func (f *listFaceRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Face, error) {
	return f.faces, nil
}

func faceAt(photoID uuid.UUID, index int, cos float64) models.Face {
	return models.Face{
		ID:        uuid.New(),
		PhotoID:   photoID,
		FaceIndex: index,
		Embedding: vecWithCosine(cos),
	}
}

func TestDBSCANCosineGroupsAndNoise(t *testing.T) {
	// Two tight groups around orthogonal directions plus one outlier.
	groupA := [][]float32{vecWithCosine(0.99), vecWithCosine(0.98), vecWithCosine(0.97)}
	up := make([]float32, models.EmbeddingDim)
	up[1] = 1
	tilt := make([]float32, models.EmbeddingDim)
	tilt[1] = float32(math.Cos(0.1))
	tilt[2] = float32(math.Sin(0.1))
	outlier := make([]float32, models.EmbeddingDim)
	outlier[3] = 1

	vectors := append(append(groupA, up, tilt), outlier)
	labels := dbscanCosine(vectors, 0.32, 2)

	require.Len(t, labels, 6)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.NotEqual(t, labels[0], labels[3])
	assert.Equal(t, labelNoise, labels[5])
}

func TestDBSCANZeroVectorIsNoise(t *testing.T) {
	vectors := [][]float32{
		vecWithCosine(0.99),
		vecWithCosine(0.98),
		make([]float32, models.EmbeddingDim),
	}
	labels := dbscanCosine(vectors, 0.32, 2)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labelNoise, labels[2])
}

func TestRecomputeClustersWritesCentroidAndCover(t *testing.T) {
	eventID := uuid.New()
	photoA := uuid.New()
	photoB := uuid.New()

	faceRepo := &listFaceRepo{faces: []models.Face{
		faceAt(photoA, 0, 0.995),
		faceAt(photoA, 1, 0.99),
		faceAt(photoB, 0, 0.985),
	}}
	clusterRepo := &fakeClusterRepo{}
	svc := NewClusterService(faceRepo, clusterRepo, 0.32, 2)

	count, err := svc.RecomputeClusters(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, clusterRepo.clusters, 1)

	cluster := clusterRepo.clusters[0]
	assert.Equal(t, 0, cluster.ClusterLabel)
	assert.Equal(t, 3, cluster.FaceCount)
	require.NotNil(t, cluster.CoverPhotoID)
	assert.Equal(t, photoA, *cluster.CoverPhotoID, "photo with two member faces wins cover")

	var norm float64
	for _, v := range cluster.Centroid {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5, "centroid is L2-normalized")

	require.Contains(t, clusterRepo.labels, 0)
	assert.Len(t, clusterRepo.labels[0], 3)
}

func TestRecomputeClustersCoverTiebreakFirstSeen(t *testing.T) {
	eventID := uuid.New()
	photoA := uuid.New()
	photoB := uuid.New()

	faceRepo := &listFaceRepo{faces: []models.Face{
		faceAt(photoA, 0, 0.995),
		faceAt(photoB, 0, 0.99),
	}}
	clusterRepo := &fakeClusterRepo{}
	svc := NewClusterService(faceRepo, clusterRepo, 0.32, 2)

	count, err := svc.RecomputeClusters(context.Background(), eventID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NotNil(t, clusterRepo.clusters[0].CoverPhotoID)
	assert.Equal(t, photoA, *clusterRepo.clusters[0].CoverPhotoID)
}

func TestRecomputeClustersTooFewFaces(t *testing.T) {
	eventID := uuid.New()
	faceRepo := &listFaceRepo{faces: []models.Face{faceAt(uuid.New(), 0, 0.9)}}
	clusterRepo := &fakeClusterRepo{}
	svc := NewClusterService(faceRepo, clusterRepo, 0.32, 2)

	count, err := svc.RecomputeClusters(context.Background(), eventID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, clusterRepo.calls, "clustering state still rewritten")
	assert.Empty(t, clusterRepo.clusters)
}

func TestRecomputeClustersEmptyEvent(t *testing.T) {
	clusterRepo := &fakeClusterRepo{}
	svc := NewClusterService(&listFaceRepo{}, clusterRepo, 0.32, 2)

	count, err := svc.RecomputeClusters(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, clusterRepo.calls)
}
