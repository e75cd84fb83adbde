package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

type EventRepositoryImpl struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) repositories.EventRepository {
	return &EventRepositoryImpl{db: db}
}

func (r *EventRepositoryImpl) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepositoryImpl) GetBySlug(ctx context.Context, slug string) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepositoryImpl) SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Event{}).Where("slug = ?", slug)
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EventRepositoryImpl) GetByOwner(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.Event, int64, error) {
	var events []models.Event
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Event{}).Where("owner_user_id = ?", ownerID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error

	return events, total, err
}

func (r *EventRepositoryImpl) Update(ctx context.Context, id uuid.UUID, event *models.Event) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Updates(event).Error
}

func (r *EventRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	return r.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).Update("status", status).Error
}

func (r *EventRepositoryImpl) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).Update("last_synced_at", at).Error
}

func (r *EventRepositoryImpl) ListByStatuses(ctx context.Context, statuses []models.EventStatus, limit int) ([]models.Event, error) {
	var events []models.Event
	query := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

func (r *EventRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Event{}).Error
}
