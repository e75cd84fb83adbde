package serviceimpl

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
)

type fakeFaceRepo struct {
	rows []repositories.FaceEmbeddingRow
}

func (f *fakeFaceRepo) CreateBatch(ctx context.Context, faces []*models.Face) error { return nil }
func (f *fakeFaceRepo) GetByPhoto(ctx context.Context, photoID uuid.UUID) ([]models.Face, error) {
	return nil, nil
}
func (f *fakeFaceRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Face, error) {
	return nil, nil
}
func (f *fakeFaceRepo) ListEmbeddingsByEvent(ctx context.Context, eventID uuid.UUID) ([]repositories.FaceEmbeddingRow, error) {
	return f.rows, nil
}
func (f *fakeFaceRepo) DeleteByPhoto(ctx context.Context, photoID uuid.UUID) error { return nil }
func (f *fakeFaceRepo) SearchSimilarByEvent(ctx context.Context, eventID uuid.UUID, embedding pgvector.Vector, limit int, threshold float64) ([]repositories.FaceSearchResult, error) {
	return nil, nil
}
func (f *fakeFaceRepo) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return int64(len(f.rows)), nil
}

// vecWithCosine builds a 512-d unit vector whose cosine similarity with
// the reference axis vector is exactly cos.
func vecWithCosine(cos float64) models.Vector512 {
	v := make(models.Vector512, models.EmbeddingDim)
	v[0] = float32(cos)
	v[1] = float32(math.Sqrt(1 - cos*cos))
	return v
}

func axisVector() []float32 {
	v := make([]float32, models.EmbeddingDim)
	v[0] = 1
	return v
}

func defaultMatchOptions() services.MatchOptions {
	return services.MatchOptions{
		ThresholdPercent:  90,
		TopMargin:         8,
		RelaxDrop:         8,
		RelaxMinThreshold: 78,
		MaxResults:        160,
	}
}

func TestCosineToPercentMapping(t *testing.T) {
	assert.Equal(t, 0.0, cosineToPercent(0.15))
	assert.Equal(t, 100.0, cosineToPercent(0.52))
	assert.Equal(t, 0.0, cosineToPercent(-0.4), "below floor clamps to 0")
	assert.Equal(t, 100.0, cosineToPercent(0.9), "above span clamps to 100")
	assert.InDelta(t, 50.0, cosineToPercent(0.15+0.37/2), 1e-9)
}

func TestPercentToCosineThresholdClamps(t *testing.T) {
	assert.InDelta(t, 0.15+0.37*0.01, percentToCosineThreshold(0), 1e-9, "percent clamps up to 1 first")
	assert.InDelta(t, 0.52, percentToCosineThreshold(250), 1e-9)
	assert.InDelta(t, 0.15+0.9*0.37, percentToCosineThreshold(90), 1e-9)
}

func TestBatchCosineSimilaritiesMasksZeroNorm(t *testing.T) {
	query := axisVector()
	rows := [][]float32{
		vecWithCosine(0.5),
		make([]float32, models.EmbeddingDim), // zero vector
	}
	scores := batchCosineSimilarities(query, rows)
	require.Len(t, scores, 2)
	assert.InDelta(t, 0.5, scores[0], 1e-6)
	assert.Equal(t, 0.0, scores[1])

	zeroQuery := make([]float32, models.EmbeddingDim)
	scores = batchCosineSimilarities(zeroQuery, rows)
	assert.Equal(t, []float64{0, 0}, scores)
}

func TestRankPhotosKeepsBestPerPhoto(t *testing.T) {
	eventID := uuid.New()
	photoA := uuid.New()
	photoB := uuid.New()

	repo := &fakeFaceRepo{rows: []repositories.FaceEmbeddingRow{
		{PhotoID: photoA, Embedding: vecWithCosine(percentToCosineThreshold(95))},
		{PhotoID: photoA, Embedding: vecWithCosine(percentToCosineThreshold(40))},
		{PhotoID: photoB, Embedding: vecWithCosine(percentToCosineThreshold(92))},
	}}
	svc := NewMatchService(repo, nil)

	result, err := svc.RankPhotos(context.Background(), eventID, axisVector(), defaultMatchOptions())
	require.NoError(t, err)
	require.Len(t, result.Ranked, 2)
	assert.False(t, result.Relaxed)
	assert.Equal(t, 90.0, result.UsedThresholdPercent)

	assert.Equal(t, photoA, result.Ranked[0].PhotoID)
	assert.Equal(t, 1, result.Ranked[0].Rank)
	assert.InDelta(t, 95.0, result.Ranked[0].ScorePercent, 0.1)
	assert.InDelta(t, 0.95, result.Ranked[0].ScoreRatio, 0.001)

	assert.Equal(t, photoB, result.Ranked[1].PhotoID)
	assert.Equal(t, 2, result.Ranked[1].Rank)
}

func TestRankPhotosTopMarginFloor(t *testing.T) {
	eventID := uuid.New()
	best := uuid.New()
	within := uuid.New()
	outside := uuid.New()

	// Best 99, margin 8 -> floor 91: 95 stays, while 90.2 passes the
	// strict threshold but falls below the floor.
	repo := &fakeFaceRepo{rows: []repositories.FaceEmbeddingRow{
		{PhotoID: best, Embedding: vecWithCosine(percentToCosineThreshold(99))},
		{PhotoID: within, Embedding: vecWithCosine(percentToCosineThreshold(95))},
		{PhotoID: outside, Embedding: vecWithCosine(percentToCosineThreshold(90.2))},
	}}
	svc := NewMatchService(repo, nil)

	result, err := svc.RankPhotos(context.Background(), eventID, axisVector(), defaultMatchOptions())
	require.NoError(t, err)
	require.Len(t, result.Ranked, 2, "floor = best-8 suppresses the tail match")
	assert.Equal(t, best, result.Ranked[0].PhotoID)
	assert.Equal(t, within, result.Ranked[1].PhotoID)
}

func TestRankPhotosAdaptiveRelaxation(t *testing.T) {
	eventID := uuid.New()
	photoA := uuid.New()

	// 85% is under the strict threshold 90 but above the relaxed 82.
	repo := &fakeFaceRepo{rows: []repositories.FaceEmbeddingRow{
		{PhotoID: photoA, Embedding: vecWithCosine(percentToCosineThreshold(85))},
	}}
	svc := NewMatchService(repo, nil)

	result, err := svc.RankPhotos(context.Background(), eventID, axisVector(), defaultMatchOptions())
	require.NoError(t, err)
	assert.True(t, result.Relaxed)
	assert.Equal(t, 82.0, result.UsedThresholdPercent, "90 - 8 stays above the 78 floor")
	require.Len(t, result.Ranked, 1)
	assert.Equal(t, photoA, result.Ranked[0].PhotoID)
}

func TestRankPhotosRelaxationFloor(t *testing.T) {
	eventID := uuid.New()
	repo := &fakeFaceRepo{rows: []repositories.FaceEmbeddingRow{
		{PhotoID: uuid.New(), Embedding: vecWithCosine(percentToCosineThreshold(30))},
	}}
	svc := NewMatchService(repo, nil)

	opts := defaultMatchOptions()
	opts.RelaxDrop = 50 // would drop to 40; floor holds at 78
	result, err := svc.RankPhotos(context.Background(), eventID, axisVector(), opts)
	require.NoError(t, err)
	assert.True(t, result.Relaxed)
	assert.Equal(t, 78.0, result.UsedThresholdPercent)
	assert.Empty(t, result.Ranked, "30% never passes even the relaxed floor")
}

func TestRankPhotosEmptyEvent(t *testing.T) {
	svc := NewMatchService(&fakeFaceRepo{}, nil)
	result, err := svc.RankPhotos(context.Background(), uuid.New(), axisVector(), defaultMatchOptions())
	require.NoError(t, err)
	assert.Empty(t, result.Ranked)
	assert.False(t, result.Relaxed)
	assert.Equal(t, 90.0, result.UsedThresholdPercent)
}

func TestRankPhotosMaxResults(t *testing.T) {
	eventID := uuid.New()
	repo := &fakeFaceRepo{}
	for i := 0; i < 12; i++ {
		repo.rows = append(repo.rows, repositories.FaceEmbeddingRow{
			PhotoID:   uuid.New(),
			Embedding: vecWithCosine(percentToCosineThreshold(97)),
		})
	}
	svc := NewMatchService(repo, nil)

	opts := defaultMatchOptions()
	opts.MaxResults = 5
	result, err := svc.RankPhotos(context.Background(), eventID, axisVector(), opts)
	require.NoError(t, err)
	require.Len(t, result.Ranked, 5)
	for i, item := range result.Ranked {
		assert.Equal(t, i+1, item.Rank)
	}
}
