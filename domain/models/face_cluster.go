package models

import (
	"time"

	"github.com/google/uuid"
)

// FaceCluster is one person-group produced by DBSCAN over an event's faces.
type FaceCluster struct {
	ID           uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	EventID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_clusters_event_label"`
	ClusterLabel int       `gorm:"not null;uniqueIndex:idx_clusters_event_label"`

	// L2-normalized mean of the member embeddings
	Centroid Vector512 `gorm:"not null"`

	FaceCount int `gorm:"default:0"`

	// Photo contributing the most member faces
	CoverPhotoID *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Event Event `gorm:"foreignKey:EventID"`
}

func (FaceCluster) TableName() string {
	return "face_clusters"
}
