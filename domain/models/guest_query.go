package models

import (
	"time"

	"github.com/google/uuid"
)

type GuestQueryStatus string

const (
	GuestQueryStatusQueued    GuestQueryStatus = "queued"
	GuestQueryStatusRunning   GuestQueryStatus = "running"
	GuestQueryStatusCompleted GuestQueryStatus = "completed"
	GuestQueryStatusFailed    GuestQueryStatus = "failed"
)

// GuestQuery is one guest selfie upload and its matching outcome.
type GuestQuery struct {
	ID      uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index"`

	GuestName string
	Status    GuestQueryStatus `gorm:"default:'queued';index"`

	// Selfie on local storage, relative to the storage root. Cleared when
	// the retention window expires.
	SelfiePath string

	Message   string
	ErrorText string `gorm:"type:text"`

	// Calibrated score ratio of the best match, set on completion
	Confidence *float64

	// Legacy column from cluster-level matching; stays null now that
	// results are ranked per photo
	ClusterID *uuid.UUID `gorm:"type:uuid"`

	ExpiresAt   *time.Time `gorm:"index"`
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Event   Event         `gorm:"foreignKey:EventID"`
	Results []GuestResult `gorm:"foreignKey:QueryID;constraint:OnDelete:CASCADE"`
}

func (GuestQuery) TableName() string {
	return "guest_queries"
}

// GuestResult is one ranked photo returned for a guest query.
type GuestResult struct {
	ID      uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	QueryID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_results_query_photo"`
	PhotoID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_results_query_photo"`

	Score float64 `gorm:"not null"` // calibrated percent / 100
	Rank  int     `gorm:"not null"` // 1-based

	CreatedAt time.Time

	// Relations
	Query GuestQuery `gorm:"foreignKey:QueryID"`
	Photo Photo      `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
}

func (GuestResult) TableName() string {
	return "guest_results"
}
