package models

import (
	"time"

	"github.com/google/uuid"
)

type Photo struct {
	ID      uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_photos_event_file"`

	// Google Drive metadata
	DriveFileID string `gorm:"not null;uniqueIndex:idx_photos_event_file"`
	FileName    string
	MimeType    string
	WebViewURL  string
	PreviewURL  string
	DownloadURL string

	// Local thumbnail, relative to the storage root
	ThumbnailPath string

	// "modifiedTime|size|name" fingerprint; unchanged stamp means the
	// cached faces are reused on resync
	ContentStamp string `gorm:"not null"`

	Status string `gorm:"default:'ok'"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Event Event  `gorm:"foreignKey:EventID"`
	Faces []Face `gorm:"foreignKey:PhotoID;constraint:OnDelete:CASCADE"`
}

func (Photo) TableName() string {
	return "photos"
}
