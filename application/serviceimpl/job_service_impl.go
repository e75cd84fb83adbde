package serviceimpl

import (
	"context"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
)

type JobServiceImpl struct {
	jobRepo   repositories.JobRepository
	eventRepo repositories.EventRepository
	guestRepo repositories.GuestQueryRepository
}

func NewJobService(
	jobRepo repositories.JobRepository,
	eventRepo repositories.EventRepository,
	guestRepo repositories.GuestQueryRepository,
) services.JobService {
	return &JobServiceImpl{
		jobRepo:   jobRepo,
		eventRepo: eventRepo,
		guestRepo: guestRepo,
	}
}

func (s *JobServiceImpl) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, services.ErrJobNotFound
	}
	return job, nil
}

// Cancel runs the cancel handshake and mirrors the outcome onto the
// owning event or guest query. A queued job cancels immediately; a
// running one only gets cancel_requested and the worker finalizes it.
func (s *JobServiceImpl) Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.jobRepo.RequestCancel(ctx, jobID, "Canceled by admin")
	if err != nil {
		return nil, services.ErrJobNotFound
	}

	if err := s.applyCancellationSideEffects(ctx, job); err != nil {
		logger.WorkerError("cancel_side_effects", "Failed to mirror cancellation", err, map[string]interface{}{
			"job_id": job.ID.String(),
			"type":   string(job.Type),
			"status": string(job.Status),
		})
	}
	return job, nil
}

func (s *JobServiceImpl) applyCancellationSideEffects(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeSyncEvent, models.JobTypeClusterEvent:
		if job.EventID == nil {
			return nil
		}
		switch job.Status {
		case models.JobStatusCanceled:
			return s.eventRepo.UpdateStatus(ctx, *job.EventID, models.EventStatusCanceled)
		case models.JobStatusCancelRequested:
			return s.eventRepo.UpdateStatus(ctx, *job.EventID, models.EventStatusCancelRequested)
		}
	case models.JobTypeMatchGuest:
		if job.QueryID == nil {
			return nil
		}
		switch job.Status {
		case models.JobStatusCanceled:
			return s.guestRepo.MarkFailed(ctx, *job.QueryID, "Matching was canceled by admin.", "Canceled by admin")
		case models.JobStatusCancelRequested:
			return s.guestRepo.UpdateStatus(ctx, *job.QueryID, models.GuestQueryStatusRunning, "Cancel requested by admin...")
		}
	}
	return nil
}
