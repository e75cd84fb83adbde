package serviceimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/googledrive"
	redisinfra "grabpic/infrastructure/redis"
	"grabpic/pkg/config"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

const statusCacheTTL = 2 * time.Second

var (
	slugInvalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	slugDashRuns     = regexp.MustCompile(`-{2,}`)
)

type EventServiceImpl struct {
	eventRepo   repositories.EventRepository
	jobRepo     repositories.JobRepository
	photoRepo   repositories.PhotoRepository
	jobService  services.JobService
	redis       *redisinfra.Client
	driveConf   config.DriveConfig
	frontendURL string
}

func NewEventService(
	eventRepo repositories.EventRepository,
	jobRepo repositories.JobRepository,
	photoRepo repositories.PhotoRepository,
	jobService services.JobService,
	redis *redisinfra.Client,
	driveConf config.DriveConfig,
	frontendURL string,
) services.EventService {
	return &EventServiceImpl{
		eventRepo:   eventRepo,
		jobRepo:     jobRepo,
		photoRepo:   photoRepo,
		jobService:  jobService,
		redis:       redis,
		driveConf:   driveConf,
		frontendURL: frontendURL,
	}
}

func (s *EventServiceImpl) Create(ctx context.Context, ownerID uuid.UUID, req services.CreateEventRequest) (*services.CreatedEvent, error) {
	folderID := googledrive.ExtractFolderID(req.DriveLink)
	if folderID == "" {
		return nil, services.ErrInvalidDriveLink
	}
	if !s.driveConfigured() {
		return nil, services.ErrMissingDriveKey
	}

	slugSource := req.Slug
	if slugSource == "" {
		slugSource = req.Name
	}
	slug, err := s.resolveSlug(ctx, slugSource, uuid.Nil)
	if err != nil {
		return nil, err
	}

	guestCode, err := utils.GenerateGuestCode(8)
	if err != nil {
		return nil, err
	}
	adminToken, err := utils.GenerateToken(24)
	if err != nil {
		return nil, err
	}
	guestCodeHash, err := utils.HashSecret(guestCode)
	if err != nil {
		return nil, err
	}
	adminTokenHash, err := utils.HashSecret(adminToken)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		ID:             uuid.New(),
		OwnerUserID:    ownerID,
		Name:           strings.TrimSpace(req.Name),
		Slug:           slug,
		DriveLink:      strings.TrimSpace(req.DriveLink),
		DriveFolderID:  folderID,
		Status:         models.EventStatusSyncing,
		GuestCodeHash:  guestCodeHash,
		AdminTokenHash: adminTokenHash,
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	job := &models.Job{
		ID:      uuid.New(),
		Type:    models.JobTypeSyncEvent,
		EventID: &event.ID,
		Status:  models.JobStatusQueued,
		Stage:   "queued_for_sync",
	}
	job.SetPayloadMap(map[string]interface{}{"trigger": "event_create"})
	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue initial sync: %w", err)
	}

	logger.Sync("event_created", "Event created and initial sync queued", map[string]interface{}{
		"event_id": event.ID.String(),
		"slug":     event.Slug,
		"job_id":   job.ID.String(),
	})
	return &services.CreatedEvent{
		Event:        event,
		GuestCode:    guestCode,
		AdminToken:   adminToken,
		InitialJobID: job.ID,
	}, nil
}

func (s *EventServiceImpl) Get(ctx context.Context, eventID uuid.UUID) (*services.EventDetail, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}
	jobs, err := s.jobRepo.ListByEvent(ctx, eventID, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to list event jobs: %w", err)
	}
	return s.detail(event, jobs), nil
}

func (s *EventServiceImpl) List(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.Event, int64, error) {
	return s.eventRepo.GetByOwner(ctx, ownerID, offset, limit)
}

func (s *EventServiceImpl) Update(ctx context.Context, eventID uuid.UUID, req services.UpdateEventRequest) (*services.EventDetail, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}

	if req.Name != nil {
		event.Name = strings.TrimSpace(*req.Name)
	}
	if req.Slug != nil {
		slug, err := s.resolveSlug(ctx, *req.Slug, event.ID)
		if err != nil {
			return nil, err
		}
		event.Slug = slug
	}
	if req.DriveLink != nil {
		folderID := googledrive.ExtractFolderID(*req.DriveLink)
		if folderID == "" {
			return nil, services.ErrInvalidDriveLink
		}
		event.DriveLink = strings.TrimSpace(*req.DriveLink)
		event.DriveFolderID = folderID
	}

	if err := s.eventRepo.Update(ctx, eventID, event); err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return s.Get(ctx, eventID)
}

func (s *EventServiceImpl) Delete(ctx context.Context, eventID uuid.UUID) error {
	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		return services.ErrEventNotFound
	}
	return s.eventRepo.Delete(ctx, eventID)
}

func (s *EventServiceImpl) Resync(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}
	if err := s.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusSyncing); err != nil {
		return nil, fmt.Errorf("failed to mark event syncing: %w", err)
	}

	job := &models.Job{
		ID:      uuid.New(),
		Type:    models.JobTypeSyncEvent,
		EventID: &event.ID,
		Status:  models.JobStatusQueued,
		Stage:   "queued_for_sync",
	}
	job.SetPayloadMap(map[string]interface{}{"trigger": "manual_resync"})
	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue resync: %w", err)
	}
	logger.Sync("resync_queued", "Manual resync queued", map[string]interface{}{
		"event_id": event.ID.String(),
		"job_id":   job.ID.String(),
	})
	return job, nil
}

func (s *EventServiceImpl) Status(ctx context.Context, eventID uuid.UUID) (*services.ProcessingStatus, error) {
	if cached := s.cachedStatus(ctx, eventID); cached != nil {
		return cached, nil
	}

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}
	status, err := s.buildStatus(ctx, event)
	if err != nil {
		return nil, err
	}
	s.cacheStatus(ctx, status)
	return status, nil
}

func (s *EventServiceImpl) CancelProcessing(ctx context.Context, eventID uuid.UUID) (*services.ProcessingStatus, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}

	job, err := s.jobRepo.LatestCancelableJob(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find cancelable job: %w", err)
	}
	if job != nil {
		if _, err := s.jobService.Cancel(ctx, job.ID); err != nil {
			return nil, err
		}
		// Side effects may have moved the event status
		event, err = s.eventRepo.GetByID(ctx, eventID)
		if err != nil {
			return nil, services.ErrEventNotFound
		}
	}

	status, err := s.buildStatus(ctx, event)
	if err != nil {
		return nil, err
	}
	s.cacheStatus(ctx, status)
	return status, nil
}

func (s *EventServiceImpl) VerifyAdminToken(ctx context.Context, eventID uuid.UUID, token string) (*models.Event, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.ErrEventNotFound
	}
	if !utils.VerifySecret(token, event.AdminTokenHash) {
		return nil, services.ErrForbidden
	}
	return event, nil
}

func (s *EventServiceImpl) driveConfigured() bool {
	if s.driveConf.APIKey != "" {
		return true
	}
	return s.driveConf.ClientID != "" && s.driveConf.ClientSecret != "" && s.driveConf.RefreshToken != ""
}

func (s *EventServiceImpl) detail(event *models.Event, jobs []models.Job) *services.EventDetail {
	guestReady := event.Status == models.EventStatusReady
	guestURL := ""
	if guestReady {
		guestURL = fmt.Sprintf("%s/g/%s", strings.TrimRight(s.frontendURL, "/"), event.Slug)
	}
	return &services.EventDetail{
		Event:      event,
		Jobs:       jobs,
		GuestReady: guestReady,
		GuestURL:   guestURL,
	}
}

// buildStatus rolls the latest sync/cluster job payload into the
// dashboard counters, falling back to the photo count when the payload
// has no listing totals.
func (s *EventServiceImpl) buildStatus(ctx context.Context, event *models.Event) (*services.ProcessingStatus, error) {
	job, err := s.jobRepo.LatestProcessingJob(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest processing job: %w", err)
	}

	var totalPhotos, processedPhotos, failedPhotos int
	progress := 0.0
	statusSource := string(event.Status)
	updatedAt := event.UpdatedAt
	var jobID *uuid.UUID

	if job != nil {
		totalPhotos = firstPositive(job.PayloadInt("total_listed"), job.PayloadInt("total_photos"))
		processedPhotos = firstPositive(job.PayloadInt("completed"), job.PayloadInt("processed"))
		failedPhotos = firstPositive(job.PayloadInt("failures"), job.PayloadInt("failed_photos"))
		progress = job.ProgressPercent
		statusSource = string(job.Status)
		updatedAt = job.UpdatedAt
		jobID = &job.ID
	} else if event.Status == models.EventStatusReady {
		progress = 100.0
	}

	if totalPhotos <= 0 {
		count, err := s.photoRepo.CountByEvent(ctx, event.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count photos: %w", err)
		}
		totalPhotos = int(count)
	}
	if processedPhotos <= 0 && totalPhotos > 0 && event.Status == models.EventStatusReady {
		processedPhotos = totalPhotos
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return &services.ProcessingStatus{
		EventID:            event.ID,
		Status:             normalizeProcessingStatus(statusSource, string(event.Status)),
		TotalPhotos:        maxInt(0, totalPhotos),
		ProcessedPhotos:    maxInt(0, processedPhotos),
		FailedPhotos:       maxInt(0, failedPhotos),
		ProgressPercentage: progress,
		JobID:              jobID,
		UpdatedAt:          updatedAt,
	}, nil
}

// normalizeProcessingStatus collapses job and event statuses into the
// coarse dashboard vocabulary.
func normalizeProcessingStatus(raw, eventStatus string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(models.JobStatusQueued):
		return "QUEUED"
	case string(models.JobStatusRunning), string(models.EventStatusSyncing), string(models.EventStatusProcessingClusters):
		return "RUNNING"
	case string(models.JobStatusCompleted), string(models.EventStatusReady):
		return "COMPLETED"
	case string(models.JobStatusFailed):
		return "FAILED"
	case string(models.JobStatusCanceled), string(models.JobStatusCancelRequested), "cancelled":
		return "CANCELLED"
	}
	if fallback := strings.ToUpper(strings.TrimSpace(eventStatus)); fallback != "" {
		return fallback
	}
	return "QUEUED"
}

func (s *EventServiceImpl) statusCacheKey(eventID uuid.UUID) string {
	return "grabpic:status:" + eventID.String()
}

func (s *EventServiceImpl) cachedStatus(ctx context.Context, eventID uuid.UUID) *services.ProcessingStatus {
	if s.redis == nil {
		return nil
	}
	raw, ok := s.redis.GetCached(ctx, s.statusCacheKey(eventID))
	if !ok {
		return nil
	}
	var status services.ProcessingStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil
	}
	return &status
}

func (s *EventServiceImpl) cacheStatus(ctx context.Context, status *services.ProcessingStatus) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.redis.SetCached(ctx, s.statusCacheKey(status.EventID), raw, statusCacheTTL); err != nil {
		logger.Warn(logger.CategoryDB, "status_cache", "Failed to cache processing status", map[string]interface{}{
			"event_id": status.EventID.String(),
			"error":    err.Error(),
		})
	}
}

// resolveSlug lowercases and strips the source down to [a-z0-9-], then
// suffixes -NN until the slug is unique.
func (s *EventServiceImpl) resolveSlug(ctx context.Context, source string, excludeID uuid.UUID) (string, error) {
	base := SlugifyName(source)
	candidate := truncate(base, 95)
	for suffix := 1; ; suffix++ {
		exists, err := s.eventRepo.SlugExists(ctx, candidate, excludeID)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%02d", truncate(base, 85), suffix)
	}
}

// SlugifyName normalizes an event name into slug characters.
func SlugifyName(source string) string {
	cleaned := strings.ToLower(strings.TrimSpace(source))
	cleaned = slugInvalidChars.ReplaceAllString(cleaned, "-")
	cleaned = slugDashRuns.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "event"
	}
	return cleaned
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
