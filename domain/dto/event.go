package dto

import (
	"time"

	"github.com/google/uuid"
)

type EventResponse struct {
	ID            uuid.UUID  `json:"id"`
	OwnerUserID   uuid.UUID  `json:"owner_user_id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	DriveLink     string     `json:"drive_link"`
	DriveFolderID string     `json:"drive_folder_id"`
	Status        string     `json:"status"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EventCreatedResponse carries the plaintext guest code and admin token.
// Both are bcrypt-hashed at rest and shown exactly once.
type EventCreatedResponse struct {
	EventResponse
	GuestCode  string    `json:"guest_code"`
	AdminToken string    `json:"admin_token"`
	JobID      uuid.UUID `json:"job_id"`
}

type EventDetailResponse struct {
	EventResponse
	GuestURL string        `json:"guest_url,omitempty"`
	Jobs     []JobResponse `json:"jobs"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int64           `json:"total"`
}

type JobResponse struct {
	ID              uuid.UUID              `json:"id"`
	Type            string                 `json:"type"`
	EventID         *uuid.UUID             `json:"event_id,omitempty"`
	QueryID         *uuid.UUID             `json:"query_id,omitempty"`
	Status          string                 `json:"status"`
	ProgressPercent float64                `json:"progress_percent"`
	Stage           string                 `json:"stage"`
	ErrorText       string                 `json:"error_text,omitempty"`
	Payload         map[string]interface{} `json:"payload"`
	Attempts        int                    `json:"attempts"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
