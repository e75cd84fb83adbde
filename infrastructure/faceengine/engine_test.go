package faceengine

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grabpic/infrastructure/faceapi"
	"grabpic/pkg/config"
)

func testFaceConfig(cacheDir string) config.FaceConfig {
	return config.FaceConfig{
		ModelCacheDir:     cacheDir,
		MinFaceRatio:      0.01,
		MinSharpness:      5.0,
		MaxFacesPerImage:  10,
		ResizeMaxSide:     200,
		DetSize:           640,
		DetScoreThreshold: 0.7,
		EnableFallback:    true,
	}
}

// seedModelCache creates files that pass the size check so
// EnsureModels never reaches the network.
func seedModelCache(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, size := range map[string]int64{
		yunetModelFile: yunetMinBytes,
		sfaceModelFile: sfaceMinBytes,
	} {
		path := filepath.Join(dir, file)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(size))
		require.NoError(t, f.Close())
	}
}

// checkerboard has maximal local contrast, so any crop is sharp.
func checkerboardPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fakeInferenceServer(t *testing.T, faces []faceapi.DetectedFace) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract-bytes", r.URL.Path)
		assert.Equal(t, "640", r.URL.Query().Get("det_size"))
		assert.Equal(t, "0.7", r.URL.Query().Get("det_score_threshold"))
		_ = json.NewEncoder(w).Encode(faceapi.ExtractResponse{Success: true, Faces: faces})
	}))
}

func embeddingNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestEmbedFacesFiltersSortsAndNormalizes(t *testing.T) {
	cacheDir := t.TempDir()
	seedModelCache(t, cacheDir)

	srv := fakeInferenceServer(t, []faceapi.DetectedFace{
		{BboxX: 100, BboxY: 10, BboxWidth: 60, BboxHeight: 60, Confidence: 0.8, Embedding: []float32{1, 0}},
		{BboxX: 10, BboxY: 10, BboxWidth: 80, BboxHeight: 80, Confidence: 0.9, Embedding: []float32{3, 4}},
		{BboxX: 0, BboxY: 0, BboxWidth: 1, BboxHeight: 1, Confidence: 0.99, Embedding: []float32{1}},
		{BboxX: 5, BboxY: 5, BboxWidth: 10, BboxHeight: 10, Confidence: 0.99, Embedding: []float32{1}},
	})
	defer srv.Close()

	engine := NewEngine(testFaceConfig(cacheDir), faceapi.NewClient(srv.URL))
	faces, err := engine.EmbedFaces(context.Background(), checkerboardPNG(t, 200, 100), 10)
	require.NoError(t, err)
	require.Len(t, faces, 2)

	// Largest face first
	assert.InDelta(t, 6400.0/20000.0, faces[0].AreaRatio, 1e-9)
	assert.InDelta(t, 3600.0/20000.0, faces[1].AreaRatio, 1e-9)

	// 2-d embedding padded to 512 and unit-normalized
	require.Len(t, faces[0].Embedding, embeddingDim)
	assert.InDelta(t, 0.6, float64(faces[0].Embedding[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(faces[0].Embedding[1]), 1e-6)
	assert.InDelta(t, 1.0, embeddingNorm(faces[0].Embedding), 1e-6)

	assert.Greater(t, faces[0].Sharpness, 5.0)
}

func TestEmbedFacesHonorsMaxFaces(t *testing.T) {
	cacheDir := t.TempDir()
	seedModelCache(t, cacheDir)

	srv := fakeInferenceServer(t, []faceapi.DetectedFace{
		{BboxX: 10, BboxY: 10, BboxWidth: 80, BboxHeight: 80, Confidence: 0.9, Embedding: []float32{3, 4}},
		{BboxX: 100, BboxY: 10, BboxWidth: 60, BboxHeight: 60, Confidence: 0.8, Embedding: []float32{1, 0}},
	})
	defer srv.Close()

	engine := NewEngine(testFaceConfig(cacheDir), faceapi.NewClient(srv.URL))
	faces, err := engine.EmbedFaces(context.Background(), checkerboardPNG(t, 200, 100), 1)
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.InDelta(t, 6400.0/20000.0, faces[0].AreaRatio, 1e-9)
}

func TestEmbedFacesUndecodableBytes(t *testing.T) {
	engine := NewEngine(testFaceConfig(t.TempDir()), faceapi.NewClient("http://127.0.0.1:1"))
	faces, err := engine.EmbedFaces(context.Background(), []byte("not an image"), 10)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestEmbedFacesFallbackWhenInferenceDown(t *testing.T) {
	cacheDir := t.TempDir()
	seedModelCache(t, cacheDir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := NewEngine(testFaceConfig(cacheDir), faceapi.NewClient(srv.URL))
	faces, err := engine.EmbedFaces(context.Background(), checkerboardPNG(t, 64, 64), 10)
	require.NoError(t, err)
	require.Len(t, faces, 1)

	fallback := faces[0]
	assert.Equal(t, 1.0, fallback.AreaRatio)
	assert.Equal(t, 0.0, fallback.DetConfidence)
	assert.InDelta(t, 1.0, embeddingNorm(fallback.Embedding), 1e-6)

	// Deterministic for identical input
	again, err := engine.EmbedFaces(context.Background(), checkerboardPNG(t, 64, 64), 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, fallback.Embedding, again[0].Embedding)
}

func TestEmbedFacesNoFallbackDisabled(t *testing.T) {
	cacheDir := t.TempDir()
	seedModelCache(t, cacheDir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testFaceConfig(cacheDir)
	cfg.EnableFallback = false
	engine := NewEngine(cfg, faceapi.NewClient(srv.URL))

	faces, err := engine.EmbedFaces(context.Background(), checkerboardPNG(t, 64, 64), 10)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestEmbedSingleFacePicksStrongest(t *testing.T) {
	cacheDir := t.TempDir()
	seedModelCache(t, cacheDir)

	srv := fakeInferenceServer(t, []faceapi.DetectedFace{
		{BboxX: 100, BboxY: 10, BboxWidth: 60, BboxHeight: 60, Confidence: 0.95, Embedding: []float32{1, 0}},
		{BboxX: 10, BboxY: 10, BboxWidth: 80, BboxHeight: 80, Confidence: 0.5, Embedding: []float32{0, 1}},
	})
	defer srv.Close()

	engine := NewEngine(testFaceConfig(cacheDir), faceapi.NewClient(srv.URL))
	face, err := engine.EmbedSingleFace(context.Background(), checkerboardPNG(t, 200, 100))
	require.NoError(t, err)
	require.NotNil(t, face)
	assert.InDelta(t, 6400.0/20000.0, face.AreaRatio, 1e-9)
	assert.InDelta(t, 1.0, float64(face.Embedding[1]), 1e-6)
}

func TestEnsureModelsRemembersFailure(t *testing.T) {
	// Pointing the cache at a regular file makes MkdirAll fail without
	// touching the network.
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := testFaceConfig(filepath.Join(blocker, "cache"))
	engine := NewEngine(cfg, faceapi.NewClient("http://127.0.0.1:1"))

	err := engine.EnsureModels(context.Background())
	require.Error(t, err)

	err = engine.EnsureModels(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previously failed")
}

func TestNormalizeEmbedding(t *testing.T) {
	// Pads short vectors
	vec := normalizeEmbedding([]float32{3, 4})
	require.Len(t, vec, embeddingDim)
	assert.InDelta(t, 1.0, embeddingNorm(vec), 1e-6)

	// Truncates long vectors
	long := make([]float32, 600)
	long[0] = 2
	long[599] = 100
	vec = normalizeEmbedding(long)
	require.Len(t, vec, embeddingDim)
	assert.InDelta(t, 1.0, float64(vec[0]), 1e-6)

	// Zero norm is rejected
	assert.Nil(t, normalizeEmbedding(make([]float32, 10)))
	assert.Nil(t, normalizeEmbedding(nil))
}

func TestLaplacianVariance(t *testing.T) {
	flat := make([][]float64, 10)
	for i := range flat {
		flat[i] = make([]float64, 10)
		for j := range flat[i] {
			flat[i][j] = 128
		}
	}
	assert.Equal(t, 0.0, laplacianVariance(flat, 0, 0, 10, 10))

	checker := make([][]float64, 10)
	for i := range checker {
		checker[i] = make([]float64, 10)
		for j := range checker[i] {
			if (i+j)%2 == 0 {
				checker[i][j] = 255
			}
		}
	}
	assert.Greater(t, laplacianVariance(checker, 0, 0, 10, 10), 1000.0)

	// Degenerate windows
	assert.Equal(t, 0.0, laplacianVariance(checker, 0, 0, 2, 10))
	assert.Equal(t, 0.0, laplacianVariance(checker, 0, 0, 10, 2))
}

func TestCropSharpnessClampsBounds(t *testing.T) {
	checker := make([][]float64, 20)
	for i := range checker {
		checker[i] = make([]float64, 20)
		for j := range checker[i] {
			if (i+j)%2 == 0 {
				checker[i][j] = 255
			}
		}
	}

	// Box partially outside the image still scores
	assert.Greater(t, cropSharpness(checker, -5, -5, 15, 15), 0.0)
	// Fully outside collapses to zero
	assert.Equal(t, 0.0, cropSharpness(checker, 50, 50, 10, 10))
}

func TestResizeForInference(t *testing.T) {
	big := image.NewGray(image.Rect(0, 0, 400, 100))
	resized := resizeForInference(big, 200)
	assert.Equal(t, 200, resized.Bounds().Dx())
	assert.Equal(t, 50, resized.Bounds().Dy())

	tall := image.NewGray(image.Rect(0, 0, 100, 400))
	resized = resizeForInference(tall, 200)
	assert.Equal(t, 50, resized.Bounds().Dx())
	assert.Equal(t, 200, resized.Bounds().Dy())

	small := image.NewGray(image.Rect(0, 0, 100, 80))
	assert.Same(t, small, resizeForInference(small, 200))

	// Zero disables resizing
	assert.Same(t, big, resizeForInference(big, 0))
}
