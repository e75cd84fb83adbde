package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type CreateEventRequest struct {
	Name      string `json:"name" validate:"required,min=2,max=120"`
	Slug      string `json:"slug" validate:"omitempty,max=95"`
	DriveLink string `json:"drive_link" validate:"required"`
}

type UpdateEventRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=2,max=120"`
	Slug      *string `json:"slug" validate:"omitempty,max=95"`
	DriveLink *string `json:"drive_link"`
}

// CreatedEvent carries the plaintext guest code and admin token. They are
// bcrypt-hashed in the database and never retrievable again.
type CreatedEvent struct {
	Event        *models.Event
	GuestCode    string
	AdminToken   string
	InitialJobID uuid.UUID
}

type EventDetail struct {
	Event      *models.Event
	Jobs       []models.Job
	GuestReady bool
	GuestURL   string
}

// ProcessingStatus is the rollup shown on dashboards and polled by the
// frontend while an event syncs.
type ProcessingStatus struct {
	EventID            uuid.UUID  `json:"event_id"`
	Status             string     `json:"status"` // QUEUED | RUNNING | COMPLETED | FAILED | CANCELLED
	TotalPhotos        int        `json:"total_photos"`
	ProcessedPhotos    int        `json:"processed_photos"`
	FailedPhotos       int        `json:"failed_photos"`
	ProgressPercentage float64    `json:"progress_percentage"`
	JobID              *uuid.UUID `json:"job_id,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type EventService interface {
	// Create validates the drive link, resolves a unique slug, generates
	// guest/admin credentials and enqueues the initial sync job.
	Create(ctx context.Context, ownerID uuid.UUID, req CreateEventRequest) (*CreatedEvent, error)

	Get(ctx context.Context, eventID uuid.UUID) (*EventDetail, error)

	// List returns events owned by ownerID; uuid.Nil lists all (super admin).
	List(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.Event, int64, error)

	Update(ctx context.Context, eventID uuid.UUID, req UpdateEventRequest) (*EventDetail, error)
	Delete(ctx context.Context, eventID uuid.UUID) error

	// Resync marks the event syncing and enqueues a manual sync job.
	Resync(ctx context.Context, eventID uuid.UUID) (*models.Job, error)

	Status(ctx context.Context, eventID uuid.UUID) (*ProcessingStatus, error)

	// CancelProcessing requests cancel on the latest cancelable
	// sync/cluster job, applies the event side effects and returns the
	// refreshed rollup.
	CancelProcessing(ctx context.Context, eventID uuid.UUID) (*ProcessingStatus, error)

	// VerifyAdminToken checks a bearer token against the event's stored
	// admin token hash.
	VerifyAdminToken(ctx context.Context, eventID uuid.UUID, token string) (*models.Event, error)
}
