package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

var processingJobTypes = []models.JobType{models.JobTypeSyncEvent, models.JobTypeClusterEvent}

var activeJobStatuses = []models.JobStatus{
	models.JobStatusQueued,
	models.JobStatusRunning,
	models.JobStatusCancelRequested,
}

type JobRepositoryImpl struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) repositories.JobRepository {
	return &JobRepositoryImpl{db: db}
}

func (r *JobRepositoryImpl) Enqueue(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// ClaimNext picks the oldest queued job and marks it running in one
// transaction. SKIP LOCKED keeps concurrent workers from blocking on each
// other's claims; two workers can never claim the same row.
func (r *JobRepositoryImpl) ClaimNext(ctx context.Context) (*models.Job, error) {
	var job models.Job
	claimed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.JobStatusQueued).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"stage":      "running",
			"started_at": now,
			"locked_at":  now,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error; err != nil {
			return err
		}

		job.Status = models.JobStatusRunning
		job.Stage = "running"
		job.StartedAt = &now
		job.LockedAt = &now
		job.Attempts++
		claimed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return &job, nil
}

func (r *JobRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepositoryImpl) GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Select("status").Where("id = ?", id).First(&job).Error
	return job.Status, err
}

func (r *JobRepositoryImpl) MarkProgress(ctx context.Context, id uuid.UUID, percent float64, stage string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"progress_percent": percent,
		"stage":            stage,
	}).Error
}

// UpsertPayload merges updates over the stored payload under a row lock so
// concurrent counter writes never drop each other.
func (r *JobRepositoryImpl) UpsertPayload(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}
		job.MergePayload(updates)
		return tx.Model(&models.Job{}).Where("id = ?", id).Update("payload", job.Payload).Error
	})
}

func (r *JobRepositoryImpl) Complete(ctx context.Context, id uuid.UUID, stage string, payload map[string]interface{}) error {
	if stage == "" {
		stage = "completed"
	}
	updates := map[string]interface{}{
		"status":           models.JobStatusCompleted,
		"progress_percent": 100.0,
		"stage":            stage,
		"completed_at":     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		updates["payload"] = string(raw)
	}
	return r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error
}

func (r *JobRepositoryImpl) Fail(ctx context.Context, id uuid.UUID, message string) error {
	if message == "" {
		message = "Job failed"
	}
	return r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     models.JobStatusFailed,
		"stage":      "failed",
		"error_text": message,
	}).Error
}

func (r *JobRepositoryImpl) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	if reason == "" {
		reason = "Canceled"
	}
	return r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(cancelUpdates(reason)).Error
}

// RequestCancel runs the cancel handshake. Queued jobs never reached a
// worker, so they finalize immediately; running jobs only get flagged and
// the worker observes the flag at its next checkpoint.
func (r *JobRepositoryImpl) RequestCancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error) {
	if reason == "" {
		reason = "Cancel requested by admin"
	}

	var job models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&job).Error; err != nil {
			return err
		}

		switch job.Status {
		case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled:
			return nil
		case models.JobStatusCancelRequested:
			return nil
		case models.JobStatusRunning:
			updates := map[string]interface{}{
				"status":     models.JobStatusCancelRequested,
				"stage":      "cancel_requested",
				"error_text": reason,
			}
			if err := tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
			job.Status = models.JobStatusCancelRequested
			job.Stage = "cancel_requested"
			job.ErrorText = reason
			return nil
		default:
			// queued, or an unknown status left by an older build
			updates := cancelUpdates(reason)
			if err := tx.Model(&models.Job{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
			now := updates["completed_at"].(time.Time)
			job.Status = models.JobStatusCanceled
			job.Stage = "canceled"
			job.ErrorText = reason
			job.CompletedAt = &now
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func cancelUpdates(reason string) map[string]interface{} {
	return map[string]interface{}{
		"status":       models.JobStatusCanceled,
		"stage":        "canceled",
		"error_text":   reason,
		"completed_at": time.Now().UTC(),
	}
}

func (r *JobRepositoryImpl) ListByEvent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.Job, error) {
	var jobs []models.Job
	query := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

func (r *JobRepositoryImpl) LatestProcessingJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latestWhere(ctx, "created_at DESC",
		"event_id = ? AND type IN ?", eventID, processingJobTypes)
}

func (r *JobRepositoryImpl) LatestSyncJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latestWhere(ctx, "updated_at DESC",
		"event_id = ? AND type = ?", eventID, models.JobTypeSyncEvent)
}

func (r *JobRepositoryImpl) LatestCancelableJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latestWhere(ctx, "created_at DESC",
		"event_id = ? AND type IN ? AND status IN ?", eventID, processingJobTypes, activeJobStatuses)
}

func (r *JobRepositoryImpl) latestWhere(ctx context.Context, order string, query string, args ...interface{}) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(query, args...).Order(order).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepositoryImpl) HasActiveJobForEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("event_id = ? AND type IN ? AND status IN ?", eventID, processingJobTypes, activeJobStatuses).
		Count(&count).Error
	return count > 0, err
}

// RequeueStale recovers jobs whose worker died mid-run. Attempts already
// counted the lost claim, so the cap check uses >= for the fail side.
func (r *JobRepositoryImpl) RequeueStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, int64, error) {
	var requeued, failed int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts >= ?",
				models.JobStatusRunning, olderThan, maxAttempts).
			Updates(map[string]interface{}{
				"status":     models.JobStatusFailed,
				"stage":      "failed",
				"error_text": "worker lost",
			})
		if res.Error != nil {
			return res.Error
		}
		failed = res.RowsAffected

		res = tx.Model(&models.Job{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ? AND attempts < ?",
				models.JobStatusRunning, olderThan, maxAttempts).
			Updates(map[string]interface{}{
				"status":    models.JobStatusQueued,
				"stage":     "requeued_after_crash",
				"locked_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		requeued = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return requeued, failed, nil
}
