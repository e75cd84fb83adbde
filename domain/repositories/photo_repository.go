package repositories

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type PhotoRepository interface {
	Create(ctx context.Context, photo *models.Photo) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Photo, error)
	GetByEventAndDriveFileID(ctx context.Context, eventID uuid.UUID, driveFileID string) (*models.Photo, error)
	GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.Photo, int64, error)

	// GetAllByEvent returns every photo of the event, used to build the
	// drive_file_id -> content_stamp index before a sync pass.
	GetAllByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Photo, error)

	// SaveWithFaces upserts the photo by (event_id, drive_file_id) and
	// replaces its faces in a single transaction.
	SaveWithFaces(ctx context.Context, photo *models.Photo, faces []*models.Face) error

	Update(ctx context.Context, id uuid.UUID, photo *models.Photo) error

	// Orphan removal after a full listing
	GetNotInDriveIDs(ctx context.Context, eventID uuid.UUID, driveFileIDs []string) ([]models.Photo, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
