package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type JobRepository interface {
	Enqueue(ctx context.Context, job *models.Job) error

	// ClaimNext picks the oldest queued job with SELECT ... FOR UPDATE
	// SKIP LOCKED and marks it running (started_at, locked_at, attempts+1,
	// stage "running") in the same transaction. Returns nil when the
	// queue is empty.
	ClaimNext(ctx context.Context) (*models.Job, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// GetStatus re-reads only the status column. Workers poll this at
	// cancellation checkpoints.
	GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error)

	// MarkProgress clamps percent to [0,100] and sets the stage label.
	MarkProgress(ctx context.Context, id uuid.UUID, percent float64, stage string) error

	// UpsertPayload merges updates over the existing payload keys.
	UpsertPayload(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error

	// Complete sets progress 100 and completed_at. A non-nil payload
	// replaces the stored payload wholesale.
	Complete(ctx context.Context, id uuid.UUID, stage string, payload map[string]interface{}) error

	Fail(ctx context.Context, id uuid.UUID, message string) error
	Cancel(ctx context.Context, id uuid.UUID, reason string) error

	// RequestCancel runs the cancel handshake: terminal statuses are a
	// no-op, queued cancels immediately, running moves to
	// cancel_requested for the worker to observe. Returns the job in its
	// post-transition state.
	RequestCancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error)

	ListByEvent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.Job, error)

	// LatestProcessingJob returns the newest sync/cluster job of the
	// event regardless of status; the status rollup reads its payload.
	LatestProcessingJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error)

	// LatestSyncJob returns the newest sync job by updated_at. The
	// auto-refresh scan uses it to skip recently synced events.
	LatestSyncJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error)

	// LatestCancelableJob returns the newest sync/cluster job still in
	// queued, running or cancel_requested.
	LatestCancelableJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error)

	// HasActiveJobForEvent reports whether any sync/cluster job of the
	// event is queued, running or cancel_requested.
	HasActiveJobForEvent(ctx context.Context, eventID uuid.UUID) (bool, error)

	// RequeueStale recovers jobs orphaned by a crashed worker: running
	// jobs locked before olderThan go back to queued while their attempt
	// count is below maxAttempts, otherwise they fail.
	RequeueStale(ctx context.Context, olderThan time.Time, maxAttempts int) (requeued int64, failed int64, err error)
}
