package faceengine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	// image.Decode format support beyond what imaging registers
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"grabpic/infrastructure/faceapi"
	"grabpic/pkg/config"
	"grabpic/pkg/logger"
)

const (
	yunetModelFile = "face_detection_yunet_2023mar.onnx"
	sfaceModelFile = "face_recognition_sface_2021dec.onnx"

	yunetModelURL = "https://github.com/opencv/opencv_zoo/blob/main/models/face_detection_yunet/" +
		"face_detection_yunet_2023mar.onnx?raw=true"
	sfaceModelURL = "https://github.com/opencv/opencv_zoo/blob/main/models/face_recognition_sface/" +
		"face_recognition_sface_2021dec.onnx?raw=true"

	yunetMinBytes = 100_000
	sfaceMinBytes = 5_000_000

	embeddingDim = 512

	// Selfies shot from a distance get looser acceptance thresholds
	selfieMinRatioScale     = 0.35
	selfieMinSharpnessScale = 0.5
)

// FaceEmbedding is one accepted face: a unit-length 512-d embedding
// plus the quality signals used for filtering and ordering.
type FaceEmbedding struct {
	Embedding     []float32
	AreaRatio     float64
	DetConfidence float64
	Sharpness     float64
	BboxX         float64
	BboxY         float64
	BboxWidth     float64
	BboxHeight    float64
}

// Engine owns the per-worker face pipeline. Decoding, downscaling,
// quality filtering and embedding post-processing run in-process;
// detection and feature extraction are delegated to the inference
// sidecar, which loads its models from the shared cache directory this
// engine materializes.
type Engine struct {
	cfg        config.FaceConfig
	client     *faceapi.Client
	cacheDir   string
	httpClient *http.Client

	mu      sync.Mutex
	ensured bool
	initErr string
}

func NewEngine(cfg config.FaceConfig, client *faceapi.Client) *Engine {
	return &Engine{
		cfg:        cfg,
		client:     client,
		cacheDir:   expandHome(cfg.ModelCacheDir),
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}
}

// EnsureModels materializes the detector and recognizer model files
// into the cache directory. A failed init is remembered and returned
// on every later call instead of retrying the download.
func (e *Engine) EnsureModels(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ensured {
		return nil
	}
	if e.initErr != "" {
		return fmt.Errorf("face engine init previously failed: %s", e.initErr)
	}

	if err := e.ensureModelsLocked(ctx); err != nil {
		if ctx.Err() == nil {
			e.initErr = err.Error()
			logger.FaceError("model_init_failed", "Face model init failed; fallback enabled="+
				fmt.Sprintf("%t", e.cfg.EnableFallback), err, nil)
		}
		return err
	}
	e.ensured = true
	return nil
}

func (e *Engine) ensureModelsLocked(ctx context.Context) error {
	if err := os.MkdirAll(e.cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create model cache dir: %w", err)
	}
	if err := e.downloadIfMissing(ctx, filepath.Join(e.cacheDir, yunetModelFile), yunetModelURL, yunetMinBytes); err != nil {
		return err
	}
	return e.downloadIfMissing(ctx, filepath.Join(e.cacheDir, sfaceModelFile), sfaceModelURL, sfaceMinBytes)
}

// downloadIfMissing writes to a tmp file first and renames only after
// the size check so a torn download never poisons the cache.
func (e *Engine) downloadIfMissing(ctx context.Context, modelPath, modelURL string, minBytes int64) error {
	if info, err := os.Stat(modelPath); err == nil && info.Size() >= minBytes {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelURL, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model download failed for %s: %w", filepath.Base(modelPath), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download failed (%d) for %s", resp.StatusCode, filepath.Base(modelPath))
	}

	tmpPath := modelPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		return fmt.Errorf("model download failed for %s: %w", filepath.Base(modelPath), err)
	}
	if written < minBytes {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("downloaded model file is incomplete for %s", filepath.Base(modelPath))
	}
	return os.Rename(tmpPath, modelPath)
}

// EmbedFaces extracts up to maxFaces embeddings from the image.
// Un-decodable bytes yield an empty set. Inference failures yield the
// deterministic fallback face when enabled, otherwise an empty set; a
// canceled context propagates as an error.
func (e *Engine) EmbedFaces(ctx context.Context, imageBytes []byte, maxFaces int) ([]FaceEmbedding, error) {
	return e.embedFaces(ctx, imageBytes, maxFaces, 1.0, 1.0)
}

// EmbedSingleFace returns the strongest face by (area_ratio,
// det_confidence), or nil when the image has no acceptable face. The
// acceptance thresholds are relaxed so distant selfies still pass.
func (e *Engine) EmbedSingleFace(ctx context.Context, imageBytes []byte) (*FaceEmbedding, error) {
	faces, err := e.embedFaces(ctx, imageBytes, 8, selfieMinRatioScale, selfieMinSharpnessScale)
	if err != nil || len(faces) == 0 {
		return nil, err
	}
	sort.SliceStable(faces, func(i, j int) bool {
		if faces[i].AreaRatio != faces[j].AreaRatio {
			return faces[i].AreaRatio > faces[j].AreaRatio
		}
		return faces[i].DetConfidence > faces[j].DetConfidence
	})
	return &faces[0], nil
}

func (e *Engine) embedFaces(ctx context.Context, imageBytes []byte, maxFaces int, ratioScale, sharpnessScale float64) ([]FaceEmbedding, error) {
	img, err := decodeImage(imageBytes)
	if err != nil {
		logger.Debug(logger.CategoryFace, "decode_failed", "Image bytes could not be decoded", map[string]interface{}{
			"bytes": len(imageBytes),
			"error": err.Error(),
		})
		return nil, nil
	}
	resized := resizeForInference(img, e.cfg.ResizeMaxSide)

	if err := e.EnsureModels(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return e.engineFallback(resized), nil
	}

	encoded, err := encodeJPEG(resized)
	if err != nil {
		return nil, nil
	}
	resp, err := e.client.ExtractFacesFromBytes(ctx, encoded, "image/jpeg", faceapi.ExtractOptions{
		DetSize:           e.cfg.DetSize,
		DetScoreThreshold: e.cfg.DetScoreThreshold,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.FaceError("inference_failed", "Face inference call failed", err, map[string]interface{}{
			"fallback": e.cfg.EnableFallback,
		})
		return e.engineFallback(resized), nil
	}

	bounds := resized.Bounds()
	imageWidth := float64(bounds.Dx())
	imageHeight := float64(bounds.Dy())
	if imageWidth < 2 || imageHeight < 2 {
		return nil, nil
	}
	imageArea := imageWidth * imageHeight
	minRatio := e.cfg.MinFaceRatio * ratioScale
	minSharpness := e.cfg.MinSharpness * sharpnessScale

	type candidate struct {
		face      faceapi.DetectedFace
		areaRatio float64
	}
	candidates := make([]candidate, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if face.BboxWidth <= 1 || face.BboxHeight <= 1 {
			continue
		}
		areaRatio := (face.BboxWidth * face.BboxHeight) / imageArea
		if areaRatio < minRatio {
			continue
		}
		candidates = append(candidates, candidate{face: face, areaRatio: areaRatio})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].areaRatio != candidates[j].areaRatio {
			return candidates[i].areaRatio > candidates[j].areaRatio
		}
		return candidates[i].face.Confidence > candidates[j].face.Confidence
	})

	keep := maxFaces
	if e.cfg.MaxFacesPerImage > 0 && e.cfg.MaxFacesPerImage < keep {
		keep = e.cfg.MaxFacesPerImage
	}
	if keep < 1 {
		keep = 1
	}
	if len(candidates) > keep {
		candidates = candidates[:keep]
	}

	gray := toGray(resized)
	out := make([]FaceEmbedding, 0, len(candidates))
	for _, cand := range candidates {
		sharpness := cropSharpness(gray, cand.face.BboxX, cand.face.BboxY, cand.face.BboxWidth, cand.face.BboxHeight)
		if sharpness < minSharpness {
			continue
		}
		embedding := normalizeEmbedding(cand.face.Embedding)
		if embedding == nil {
			continue
		}
		out = append(out, FaceEmbedding{
			Embedding:     embedding,
			AreaRatio:     cand.areaRatio,
			DetConfidence: cand.face.Confidence,
			Sharpness:     sharpness,
			BboxX:         cand.face.BboxX,
			BboxY:         cand.face.BboxY,
			BboxWidth:     cand.face.BboxWidth,
			BboxHeight:    cand.face.BboxHeight,
		})
	}
	return out, nil
}

func (e *Engine) engineFallback(img image.Image) []FaceEmbedding {
	if !e.cfg.EnableFallback {
		return nil
	}
	face := fallbackFace(img)
	return []FaceEmbedding{face}
}

// fallbackFace is the deterministic stand-in used when inference is
// unavailable: the 32x16 greyscale downsample flattened row-major into
// the 512-d embedding slot and L2-normalized.
func fallbackFace(img image.Image) FaceEmbedding {
	gray := toGray(img)
	small := imaging.Resize(imaging.Grayscale(img), 32, 16, imaging.Box)

	vec := make([]float32, 0, embeddingDim)
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			vec = append(vec, float32(0.299*float64(r>>8)+0.587*float64(g>>8)+0.114*float64(b>>8)))
		}
	}
	for len(vec) < embeddingDim {
		vec = append(vec, 0)
	}
	vec = vec[:embeddingDim]

	normalized := normalizeEmbedding(vec)
	if normalized == nil {
		normalized = make([]float32, embeddingDim)
	}

	bounds := img.Bounds()
	return FaceEmbedding{
		Embedding:     normalized,
		AreaRatio:     1.0,
		DetConfidence: 0.0,
		Sharpness:     laplacianVariance(gray, 0, 0, len(gray[0]), len(gray)),
		BboxX:         0,
		BboxY:         0,
		BboxWidth:     float64(bounds.Dx()),
		BboxHeight:    float64(bounds.Dy()),
	}
}

func decodeImage(imageBytes []byte) (image.Image, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func resizeForInference(img image.Image, maxSide int) image.Image {
	if maxSide <= 0 {
		return img
	}
	bounds := img.Bounds()
	longSide := bounds.Dx()
	if bounds.Dy() > longSide {
		longSide = bounds.Dy()
	}
	if longSide <= maxSide {
		return img
	}
	if bounds.Dx() >= bounds.Dy() {
		return imaging.Resize(img, maxSide, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxSide, imaging.Lanczos)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toGray converts to a row-major luma matrix using the BT.601 weights.
func toGray(img image.Image) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	gray := make([][]float64, h)
	for y := 0; y < h; y++ {
		row := make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
		gray[y] = row
	}
	return gray
}

// cropSharpness scores the face crop as the variance of its Laplacian.
func cropSharpness(gray [][]float64, x, y, w, h float64) float64 {
	if len(gray) == 0 || len(gray[0]) == 0 {
		return 0
	}
	imageH := len(gray)
	imageW := len(gray[0])

	x1 := clampInt(int(math.Floor(x)), 0, imageW)
	y1 := clampInt(int(math.Floor(y)), 0, imageH)
	x2 := clampInt(int(math.Ceil(x+w)), 0, imageW)
	y2 := clampInt(int(math.Ceil(y+h)), 0, imageH)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return laplacianVariance(gray, x1, y1, x2, y2)
}

// laplacianVariance applies the 4-neighbour Laplacian kernel over the
// interior of [x1,x2)x[y1,y2) and returns the response variance.
func laplacianVariance(gray [][]float64, x1, y1, x2, y2 int) float64 {
	if x2-x1 < 3 || y2-y1 < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := y1 + 1; y < y2-1; y++ {
		for x := x1 + 1; x < x2-1; x++ {
			v := gray[y-1][x] + gray[y+1][x] + gray[y][x-1] + gray[y][x+1] - 4*gray[y][x]
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// normalizeEmbedding pads or truncates to exactly 512 elements and
// L2-normalizes. Returns nil when the norm is not positive.
func normalizeEmbedding(raw []float32) []float32 {
	vec := make([]float32, embeddingDim)
	copy(vec, raw)

	var normSq float64
	for _, v := range vec {
		normSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(normSq)
	if norm <= 0 {
		return nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func expandHome(dir string) string {
	if strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	}
	return dir
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
