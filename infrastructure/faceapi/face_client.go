package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the face inference sidecar. The sidecar loads the
// YuNet detector and SFace recognizer from the shared model cache and
// exposes detection + embedding over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// DetectedFace is one face as reported by the inference service.
type DetectedFace struct {
	// Bounding box in pixels of the submitted image
	BboxX      float64 `json:"bbox_x"`
	BboxY      float64 `json:"bbox_y"`
	BboxWidth  float64 `json:"bbox_width"`
	BboxHeight float64 `json:"bbox_height"`

	// Raw feature vector; SFace commonly yields 128 dimensions and the
	// engine pads to the stored width
	Embedding []float32 `json:"embedding"`

	// Detection confidence
	Confidence float64 `json:"confidence"`
}

// ExtractResponse is the response from face extraction
type ExtractResponse struct {
	Success bool           `json:"success"`
	Faces   []DetectedFace `json:"faces"`
	Error   string         `json:"error,omitempty"`

	ProcessingTimeMs int `json:"processing_time_ms"`
}

// ExtractOptions tunes the sidecar's detector for one request. Zero
// values are omitted so the sidecar keeps its own defaults.
type ExtractOptions struct {
	// Square input size the detector is prepared with
	DetSize int

	// Minimum detection score a face must reach to be reported
	DetScoreThreshold float64
}

// HealthResponse is the response from health check
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Inference can take time on CPU
		},
	}
}

// ExtractFacesFromBytes posts image bytes to /extract-bytes and
// returns the detected faces.
func (c *Client) ExtractFacesFromBytes(ctx context.Context, imageData []byte, mimeType string, opts ExtractOptions) (*ExtractResponse, error) {
	endpoint := c.baseURL + "/extract-bytes"
	query := url.Values{}
	if opts.DetSize > 0 {
		query.Set("det_size", strconv.Itoa(opts.DetSize))
	}
	if opts.DetScoreThreshold > 0 {
		query.Set("det_score_threshold", strconv.FormatFloat(opts.DetScoreThreshold, 'f', -1, 64))
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call face API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("face extraction failed: %s", result.Error)
	}
	return &result, nil
}

// Health checks if the face API is healthy
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call health API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

// IsAvailable checks if the face API is available
func (c *Client) IsAvailable(ctx context.Context) bool {
	health, err := c.Health(ctx)
	if err != nil {
		return false
	}
	return health.Status == "ok"
}
