package serviceimpl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/storage"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

type GuestServiceImpl struct {
	eventRepo repositories.EventRepository
	guestRepo repositories.GuestQueryRepository
	photoRepo repositories.PhotoRepository
	jobRepo   repositories.JobRepository
	storage   *storage.LocalStorage
	retention time.Duration
}

func NewGuestService(
	eventRepo repositories.EventRepository,
	guestRepo repositories.GuestQueryRepository,
	photoRepo repositories.PhotoRepository,
	jobRepo repositories.JobRepository,
	store *storage.LocalStorage,
	retentionHours int,
) services.GuestService {
	return &GuestServiceImpl{
		eventRepo: eventRepo,
		guestRepo: guestRepo,
		photoRepo: photoRepo,
		jobRepo:   jobRepo,
		storage:   store,
		retention: time.Duration(retentionHours) * time.Hour,
	}
}

// SubmitSelfie persists the selfie, creates the guest query and queues
// the match job. The selfie is written before the query row so the row
// never points at a missing file.
func (s *GuestServiceImpl) SubmitSelfie(ctx context.Context, req services.GuestMatchRequest) (*models.GuestQuery, error) {
	event, err := s.resolveEvent(ctx, req.Slug, req.GuestCode)
	if err != nil {
		return nil, err
	}
	if event.Status != models.EventStatusReady {
		return nil, services.ErrEventNotReady
	}
	if len(req.Data) == 0 {
		return nil, services.ErrInvalidSelfie
	}

	queryID := uuid.New()
	selfiePath, err := s.storage.SaveSelfie(queryID, req.FileName, req.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to store selfie: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.retention)
	query := &models.GuestQuery{
		ID:         queryID,
		EventID:    event.ID,
		GuestName:  strings.TrimSpace(req.GuestName),
		Status:     models.GuestQueryStatusQueued,
		SelfiePath: selfiePath,
		Message:    "Selfie received. Processing started.",
		ExpiresAt:  &expiresAt,
	}
	if err := s.guestRepo.Create(ctx, query); err != nil {
		s.storage.DeleteIfExists(selfiePath)
		return nil, fmt.Errorf("failed to create guest query: %w", err)
	}

	job := &models.Job{
		ID:      uuid.New(),
		Type:    models.JobTypeMatchGuest,
		EventID: &event.ID,
		QueryID: &query.ID,
		Status:  models.JobStatusQueued,
		Stage:   "queued_for_match",
	}
	job.SetPayloadMap(map[string]interface{}{"trigger": "guest_upload"})
	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue match: %w", err)
	}

	logger.Guest("selfie_received", "Guest selfie queued for matching", map[string]interface{}{
		"event_id": event.ID.String(),
		"query_id": query.ID.String(),
		"job_id":   job.ID.String(),
	})
	return query, nil
}

func (s *GuestServiceImpl) GetMatch(ctx context.Context, slug, guestCode string, queryID uuid.UUID) (*services.GuestMatchStatus, error) {
	event, err := s.resolveEvent(ctx, slug, guestCode)
	if err != nil {
		return nil, err
	}
	query, err := s.guestRepo.GetByID(ctx, queryID)
	if err != nil || query.EventID != event.ID {
		return nil, services.ErrQueryNotFound
	}

	status := &services.GuestMatchStatus{
		QueryID:    query.ID,
		Status:     string(query.Status),
		Confidence: 0,
		Message:    query.Message,
		Photos:     []services.GuestPhoto{},
	}
	if query.Confidence != nil {
		status.Confidence = *query.Confidence
	}

	if query.Status == models.GuestQueryStatusQueued || query.Status == models.GuestQueryStatusRunning {
		if status.Message == "" {
			status.Message = "Processing selfie..."
		}
		return status, nil
	}
	if status.Message == "" {
		status.Message = "Done"
	}

	results, err := s.guestRepo.GetResults(ctx, query.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	if len(results) == 0 {
		return status, nil
	}

	photoIDs := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		photoIDs = append(photoIDs, r.PhotoID)
	}
	photos, err := s.photoRepo.GetByIDs(ctx, photoIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load photos: %w", err)
	}
	byID := make(map[uuid.UUID]models.Photo, len(photos))
	for _, p := range photos {
		byID[p.ID] = p
	}

	for _, r := range results {
		photo, ok := byID[r.PhotoID]
		if !ok {
			continue
		}
		thumbnailURL := ""
		if photo.ThumbnailPath != "" {
			thumbnailURL = "/storage/" + photo.ThumbnailPath
		}
		status.Photos = append(status.Photos, services.GuestPhoto{
			PhotoID:      photo.ID,
			FileName:     photo.FileName,
			ThumbnailURL: thumbnailURL,
			DownloadURL:  photo.DownloadURL,
			Score:        r.Score,
			Rank:         r.Rank,
		})
	}
	return status, nil
}

func (s *GuestServiceImpl) resolveEvent(ctx context.Context, slug, guestCode string) (*models.Event, error) {
	event, err := s.eventRepo.GetBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, services.ErrEventNotFound
	}
	if !utils.VerifySecret(guestCode, event.GuestCodeHash) {
		return nil, services.ErrInvalidGuestCode
	}
	return event, nil
}
