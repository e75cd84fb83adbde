package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetBySlug(ctx context.Context, slug string) (*models.Event, error)
	// SlugExists reports whether another event already owns the slug.
	// Pass uuid.Nil to check against all events.
	SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error)
	GetByOwner(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.Event, int64, error)
	Update(ctx context.Context, id uuid.UUID, event *models.Event) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListByStatuses returns events in any of the given statuses, oldest
	// updated first. Used by the auto-refresh scan.
	ListByStatuses(ctx context.Context, statuses []models.EventStatus, limit int) ([]models.Event, error)

	Delete(ctx context.Context, id uuid.UUID) error
}
