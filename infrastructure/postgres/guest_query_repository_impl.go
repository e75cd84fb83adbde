package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

type GuestQueryRepositoryImpl struct {
	db *gorm.DB
}

func NewGuestQueryRepository(db *gorm.DB) repositories.GuestQueryRepository {
	return &GuestQueryRepositoryImpl{db: db}
}

func (r *GuestQueryRepositoryImpl) Create(ctx context.Context, query *models.GuestQuery) error {
	return r.db.WithContext(ctx).Create(query).Error
}

func (r *GuestQueryRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.GuestQuery, error) {
	var query models.GuestQuery
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&query).Error
	if err != nil {
		return nil, err
	}
	return &query, nil
}

func (r *GuestQueryRepositoryImpl) GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.GuestQuery, int64, error) {
	var queries []models.GuestQuery
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.GuestQuery{}).Where("event_id = ?", eventID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&queries).Error

	return queries, total, err
}

func (r *GuestQueryRepositoryImpl) Update(ctx context.Context, id uuid.UUID, query *models.GuestQuery) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Updates(query).Error
}

func (r *GuestQueryRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status models.GuestQueryStatus, message string) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if message != "" {
		updates["message"] = message
	}
	return r.db.WithContext(ctx).Model(&models.GuestQuery{}).Where("id = ?", id).Updates(updates).Error
}

func (r *GuestQueryRepositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, message, errorText string) error {
	return r.db.WithContext(ctx).Model(&models.GuestQuery{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.GuestQueryStatusFailed,
		"message":      message,
		"error_text":   errorText,
		"completed_at": time.Now().UTC(),
	}).Error
}

func (r *GuestQueryRepositoryImpl) MarkCompleted(ctx context.Context, id uuid.UUID, confidence *float64, message string) error {
	return r.db.WithContext(ctx).Model(&models.GuestQuery{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.GuestQueryStatusCompleted,
		"message":      message,
		"confidence":   confidence,
		"completed_at": time.Now().UTC(),
	}).Error
}

// ReplaceResults rewrites the ranked photos so a rerun never appends onto a
// previous run's rows.
func (r *GuestQueryRepositoryImpl) ReplaceResults(ctx context.Context, queryID uuid.UUID, results []*models.GuestResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("query_id = ?", queryID).Delete(&models.GuestResult{}).Error; err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		for _, result := range results {
			result.QueryID = queryID
		}
		return tx.CreateInBatches(results, 100).Error
	})
}

func (r *GuestQueryRepositoryImpl) GetResults(ctx context.Context, queryID uuid.UUID) ([]models.GuestResult, error) {
	var results []models.GuestResult
	err := r.db.WithContext(ctx).
		Where("query_id = ?", queryID).
		Order("rank ASC").
		Find(&results).Error
	return results, err
}

func (r *GuestQueryRepositoryImpl) ListExpiredWithSelfies(ctx context.Context, now time.Time, limit int) ([]models.GuestQuery, error) {
	var queries []models.GuestQuery
	query := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ? AND selfie_path <> ''", now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&queries).Error
	return queries, err
}

func (r *GuestQueryRepositoryImpl) ClearSelfiePath(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.GuestQuery{}).Where("id = ?", id).Update("selfie_path", "").Error
}
