package models

import (
	"time"

	"github.com/google/uuid"
)

type Face struct {
	ID      uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID uuid.UUID `gorm:"type:uuid;not null;index"` // For faster per-event scans
	PhotoID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_faces_photo_index"`

	// Position of the face within the photo's detection order
	FaceIndex int `gorm:"not null;uniqueIndex:idx_faces_photo_index"`

	// Face embedding vector (512 dimensions, L2-normalized)
	Embedding Vector512 `gorm:"not null"`

	// Bounding box in pixels of the inference-resized image
	BboxX      float64
	BboxY      float64
	BboxWidth  float64
	BboxHeight float64

	AreaRatio     float64 `gorm:"not null"`
	DetConfidence float64 `gorm:"not null"`
	Sharpness     float64

	// DBSCAN label within the event; null = noise or not yet clustered.
	// Deliberately not a foreign key to face_clusters, clustering rewrites
	// labels and clusters together.
	ClusterLabel *int `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Event Event `gorm:"foreignKey:EventID"`
	Photo Photo `gorm:"foreignKey:PhotoID"`
}

func (Face) TableName() string {
	return "faces"
}
