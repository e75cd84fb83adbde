package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type GuestQueryRepository interface {
	Create(ctx context.Context, query *models.GuestQuery) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GuestQuery, error)
	GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.GuestQuery, int64, error)
	Update(ctx context.Context, id uuid.UUID, query *models.GuestQuery) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.GuestQueryStatus, message string) error
	MarkFailed(ctx context.Context, id uuid.UUID, message, errorText string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, confidence *float64, message string) error

	// ReplaceResults rewrites the ranked photos for the query
	ReplaceResults(ctx context.Context, queryID uuid.UUID, results []*models.GuestResult) error
	GetResults(ctx context.Context, queryID uuid.UUID) ([]models.GuestResult, error)

	// Retention cleanup
	ListExpiredWithSelfies(ctx context.Context, now time.Time, limit int) ([]models.GuestQuery, error)
	ClearSelfiePath(ctx context.Context, id uuid.UUID) error
}
