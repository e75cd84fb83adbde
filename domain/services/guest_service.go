package services

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type GuestMatchRequest struct {
	Slug      string
	GuestCode string
	GuestName string
	FileName  string
	Data      []byte
}

type GuestPhoto struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	FileName     string    `json:"file_name"`
	ThumbnailURL string    `json:"thumbnail_url"`
	DownloadURL  string    `json:"download_url"`
	Score        float64   `json:"score"`
	Rank         int       `json:"rank"`
}

type GuestMatchStatus struct {
	QueryID    uuid.UUID    `json:"query_id"`
	Status     string       `json:"status"`
	Confidence float64      `json:"confidence"`
	Message    string       `json:"message"`
	Photos     []GuestPhoto `json:"photos"`
}

type GuestService interface {
	// SubmitSelfie verifies the guest code, stores the selfie and
	// enqueues a match job. The event must be ready.
	SubmitSelfie(ctx context.Context, req GuestMatchRequest) (*models.GuestQuery, error)

	// GetMatch returns the query state; ranked photos once completed.
	GetMatch(ctx context.Context, slug, guestCode string, queryID uuid.UUID) (*GuestMatchStatus, error)
}
