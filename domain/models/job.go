package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeSyncEvent    JobType = "sync_event"    // Ingest a Drive folder and index faces
	JobTypeClusterEvent JobType = "cluster_event" // Recompute DBSCAN clusters
	JobTypeMatchGuest   JobType = "match_guest"   // Match a guest selfie
)

type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusCancelRequested JobStatus = "cancel_requested"
	JobStatusCanceled        JobStatus = "canceled"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusFailed          JobStatus = "failed"
)

// Terminal reports whether the status is one no worker will move again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Job is one unit of pipeline work, claimed by workers with
// SELECT ... FOR UPDATE SKIP LOCKED in FIFO order.
type Job struct {
	ID      uuid.UUID  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Type    JobType    `gorm:"not null;index" json:"type"`
	EventID *uuid.UUID `gorm:"type:uuid;index" json:"event_id,omitempty"`
	QueryID *uuid.UUID `gorm:"type:uuid;index" json:"query_id,omitempty"`

	Status          JobStatus `gorm:"default:'queued';index:idx_jobs_status_created" json:"status"`
	ProgressPercent float64   `gorm:"default:0" json:"progress_percent"`
	Stage           string    `json:"stage"`
	ErrorText       string    `gorm:"type:text" json:"error_text,omitempty"`

	// Counters and results, job-type specific (see worker payload types)
	Payload string `gorm:"type:jsonb" json:"-"`

	Attempts    int        `gorm:"default:0" json:"attempts"`
	LockedAt    *time.Time `json:"-"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	CreatedAt time.Time `gorm:"index:idx_jobs_status_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}

// PayloadMap decodes the jsonb payload. Empty or malformed payloads decode
// to an empty map so callers never branch on decode errors.
func (j *Job) PayloadMap() map[string]interface{} {
	out := map[string]interface{}{}
	if j.Payload == "" {
		return out
	}
	_ = json.Unmarshal([]byte(j.Payload), &out)
	return out
}

// SetPayloadMap replaces the payload wholesale.
func (j *Job) SetPayloadMap(payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	j.Payload = string(raw)
}

// MergePayload applies updates over the existing payload keys.
func (j *Job) MergePayload(updates map[string]interface{}) {
	payload := j.PayloadMap()
	for k, v := range updates {
		payload[k] = v
	}
	j.SetPayloadMap(payload)
}

// PayloadInt reads an integer counter from the payload, tolerating the
// float64 that encoding/json produces for numbers.
func (j *Job) PayloadInt(key string) int {
	switch v := j.PayloadMap()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}
