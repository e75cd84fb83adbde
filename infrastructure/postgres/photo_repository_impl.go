package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
)

type PhotoRepositoryImpl struct {
	db *gorm.DB
}

func NewPhotoRepository(db *gorm.DB) repositories.PhotoRepository {
	return &PhotoRepositoryImpl{db: db}
}

func (r *PhotoRepositoryImpl) Create(ctx context.Context, photo *models.Photo) error {
	return r.db.WithContext(ctx).Create(photo).Error
}

func (r *PhotoRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	var photo models.Photo
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&photo).Error
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

func (r *PhotoRepositoryImpl) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Photo, error) {
	var photos []models.Photo
	if len(ids) == 0 {
		return photos, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&photos).Error
	if err != nil {
		return nil, err
	}
	return photos, nil
}

func (r *PhotoRepositoryImpl) GetByEventAndDriveFileID(ctx context.Context, eventID uuid.UUID, driveFileID string) (*models.Photo, error) {
	var photo models.Photo
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND drive_file_id = ?", eventID, driveFileID).
		First(&photo).Error
	if err != nil {
		return nil, err
	}
	return &photo, nil
}

func (r *PhotoRepositoryImpl) GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.Photo, int64, error) {
	var photos []models.Photo
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Photo{}).Where("event_id = ?", eventID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("file_name ASC").
		Offset(offset).
		Limit(limit).
		Find(&photos).Error

	return photos, total, err
}

func (r *PhotoRepositoryImpl) GetAllByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Photo, error) {
	var photos []models.Photo
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Find(&photos).Error
	return photos, err
}

// SaveWithFaces upserts the photo by (event_id, drive_file_id) and replaces
// its faces in one transaction so a crash never leaves a photo with the
// previous image's faces.
func (r *PhotoRepositoryImpl) SaveWithFaces(ctx context.Context, photo *models.Photo, faces []*models.Face) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Photo
		err := tx.Where("event_id = ? AND drive_file_id = ?", photo.EventID, photo.DriveFileID).
			First(&existing).Error
		switch {
		case err == nil:
			photo.ID = existing.ID
			photo.CreatedAt = existing.CreatedAt
			if err := tx.Model(&models.Photo{}).Where("id = ?", existing.ID).Updates(photo).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(photo).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if err := tx.Where("photo_id = ?", photo.ID).Delete(&models.Face{}).Error; err != nil {
			return err
		}

		for _, face := range faces {
			face.PhotoID = photo.ID
			face.EventID = photo.EventID
		}
		if len(faces) == 0 {
			return nil
		}
		return tx.CreateInBatches(faces, 50).Error
	})
}

func (r *PhotoRepositoryImpl) Update(ctx context.Context, id uuid.UUID, photo *models.Photo) error {
	return r.db.WithContext(ctx).Model(&models.Photo{}).Where("id = ?", id).Updates(photo).Error
}

func (r *PhotoRepositoryImpl) GetNotInDriveIDs(ctx context.Context, eventID uuid.UUID, driveFileIDs []string) ([]models.Photo, error) {
	var photos []models.Photo
	query := r.db.WithContext(ctx).Where("event_id = ?", eventID)
	if len(driveFileIDs) > 0 {
		query = query.Where("drive_file_id NOT IN ?", driveFileIDs)
	}
	err := query.Find(&photos).Error
	return photos, err
}

func (r *PhotoRepositoryImpl) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Photo{})
	return res.RowsAffected, res.Error
}

func (r *PhotoRepositoryImpl) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Photo{}).Where("event_id = ?", eventID).Count(&count).Error
	return count, err
}

func (r *PhotoRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Photo{}).Error
}
