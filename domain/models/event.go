package models

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusQueued             EventStatus = "queued"
	EventStatusSyncing            EventStatus = "syncing"
	EventStatusProcessingClusters EventStatus = "processing_clusters"
	EventStatusReady              EventStatus = "ready"
	EventStatusFailed             EventStatus = "failed"
	EventStatusCanceled           EventStatus = "canceled"
	EventStatusCancelRequested    EventStatus = "cancel_requested"
)

type Event struct {
	ID          uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index"`

	Name          string `gorm:"not null"`
	Slug          string `gorm:"uniqueIndex;not null"` // URL slug for guest access (e.g., /g/wedding-2026)
	DriveLink     string `gorm:"not null"`
	DriveFolderID string `gorm:"not null"`

	Status EventStatus `gorm:"default:'queued';index"`

	// Guest and event-admin credentials, stored hashed. Plaintext is
	// returned exactly once at creation time.
	GuestCodeHash  string `gorm:"not null"`
	AdminTokenHash string `gorm:"not null"`

	LastSyncedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Owner        User          `gorm:"foreignKey:OwnerUserID"`
	Photos       []Photo       `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	Faces        []Face        `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	Clusters     []FaceCluster `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
	GuestQueries []GuestQuery  `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE"`
}

func (Event) TableName() string {
	return "events"
}
