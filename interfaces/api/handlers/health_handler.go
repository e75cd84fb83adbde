package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/infrastructure/faceapi"
	redisinfra "grabpic/infrastructure/redis"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db          *gorm.DB
	redisClient *redisinfra.Client
	faceClient  *faceapi.Client
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, redisClient *redisinfra.Client, faceClient *faceapi.Client) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
		faceClient:  faceClient,
	}
}

// ComponentHealth represents health status of a component
type ComponentHealth struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// DetailedHealthResponse represents detailed health check response
type DetailedHealthResponse struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    *HealthMetrics             `json:"metrics,omitempty"`
}

// HealthMetrics contains queue and corpus gauges
type HealthMetrics struct {
	QueuedJobs  int64 `json:"queued_jobs"`
	RunningJobs int64 `json:"running_jobs"`
	StuckJobs   int64 `json:"stuck_jobs"`
	TotalEvents int64 `json:"total_events"`
	TotalPhotos int64 `json:"total_photos"`
}

// Health is the liveness probe
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ok":      true,
		"service": "grabpic-api",
	})
}

// DetailedHealth godoc
// @Summary Get detailed system health
// @Description Returns detailed health status of all system components
// @Tags Health
// @Accept json
// @Produce json
// @Success 200 {object} DetailedHealthResponse
// @Router /health/detailed [get]
func (h *HealthHandler) DetailedHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 10*time.Second)
	defer cancel()

	response := DetailedHealthResponse{
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	allHealthy := true
	hasCriticalFailure := false

	// Check Database
	dbHealth := h.checkDatabase(ctx)
	response.Components["database"] = dbHealth
	if dbHealth.Status != "ok" {
		hasCriticalFailure = true
	}

	// Check Redis
	redisHealth := h.checkRedis(ctx)
	response.Components["redis"] = redisHealth
	if redisHealth.Status == "error" {
		allHealthy = false
	}

	// Check face sidecar
	faceHealth := h.checkFaceAPI(ctx)
	response.Components["face_api"] = faceHealth
	if faceHealth.Status == "error" {
		allHealthy = false
	}

	// Get metrics (only if DB is ok)
	if dbHealth.Status == "ok" {
		metrics := h.getMetrics(ctx)
		response.Metrics = metrics

		if metrics != nil && metrics.StuckJobs > 0 {
			allHealthy = false
		}
	}

	// Determine overall status
	if hasCriticalFailure {
		response.Status = "unhealthy"
	} else if !allHealthy {
		response.Status = "degraded"
	} else {
		response.Status = "healthy"
	}

	// Return 503 for unhealthy, 200 for others
	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.db == nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Database not configured",
		}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Failed to get database connection: " + err.Error(),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return ComponentHealth{
		Status:  "ok",
		Message: "Connected",
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.redisClient == nil {
		return ComponentHealth{
			Status:  "unavailable",
			Message: "Redis not configured",
		}
	}

	if err := h.redisClient.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Redis ping failed: " + err.Error(),
		}
	}

	return ComponentHealth{
		Status:  "ok",
		Message: "Connected",
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) checkFaceAPI(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.faceClient == nil {
		return ComponentHealth{
			Status:  "unavailable",
			Message: "Face sidecar not configured; embedded engine in use",
		}
	}

	health, err := h.faceClient.Health(ctx)
	if err != nil {
		return ComponentHealth{
			Status:  "error",
			Message: "Face API health check failed: " + err.Error(),
		}
	}

	return ComponentHealth{
		Status:  "ok",
		Message: "Model: " + health.Model + ", Version: " + health.Version,
		Latency: time.Since(start).String(),
	}
}

func (h *HealthHandler) getMetrics(ctx context.Context) *HealthMetrics {
	if h.db == nil {
		return nil
	}

	db := h.db.WithContext(ctx)
	metrics := &HealthMetrics{}

	_ = db.Model(&models.Job{}).Where("status = ?", models.JobStatusQueued).Count(&metrics.QueuedJobs).Error
	_ = db.Model(&models.Job{}).Where("status = ?", models.JobStatusRunning).Count(&metrics.RunningJobs).Error

	// Running jobs whose lock has gone quiet; the scheduler requeues them
	threshold := time.Now().UTC().Add(-15 * time.Minute)
	_ = db.Model(&models.Job{}).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, threshold).
		Count(&metrics.StuckJobs).Error

	_ = db.Model(&models.Event{}).Count(&metrics.TotalEvents).Error
	_ = db.Model(&models.Photo{}).Count(&metrics.TotalPhotos).Error

	return metrics
}
