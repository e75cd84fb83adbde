package services

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type JobService interface {
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)

	// Cancel runs the cancel handshake and mirrors the outcome onto the
	// coupled event or guest query.
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
}
