package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/pkg/logger"
)

// cleanupBatchLimit bounds the rows one cleanup pass touches so a backlog
// cannot stall the claim loop.
const cleanupBatchLimit = 500

// autoSyncStatuses are the event states eligible for a periodic re-sync.
// Events still queued or mid-pipeline are left to their current job.
var autoSyncStatuses = []models.EventStatus{
	models.EventStatusReady,
	models.EventStatusFailed,
	models.EventStatusCanceled,
	models.EventStatusCancelRequested,
}

// runCleanup purges expired guest selfies and re-queues stale events for
// auto-sync. It runs between claims on idle loops, so every failure is
// logged and swallowed.
func (p *Pipeline) runCleanup(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := p.guestRepo.ListExpiredWithSelfies(ctx, now, cleanupBatchLimit)
	if err != nil {
		logger.WorkerError("selfie_cleanup_failed", "Failed to list expired guest selfies", err, nil)
	} else {
		for _, query := range expired {
			p.store.DeleteIfExists(query.SelfiePath)
			if err := p.guestRepo.ClearSelfiePath(ctx, query.ID); err != nil {
				logger.WorkerError("selfie_cleanup_failed", "Failed to clear selfie path", err, map[string]interface{}{
					"query_id": query.ID.String(),
				})
			}
		}
		if len(expired) > 0 {
			logger.Worker("selfies_purged", "Deleted expired guest selfies", map[string]interface{}{
				"count": len(expired),
			})
		}
	}

	if queued := p.enqueueAutoSyncJobs(ctx, now); queued > 0 {
		logger.Worker("auto_sync_queued", "Auto-sync queued events", map[string]interface{}{
			"count": queued,
		})
	}
}

// enqueueAutoSyncJobs queues a sync for settled events whose last sync is
// older than the configured interval. Returns how many were queued.
func (p *Pipeline) enqueueAutoSyncJobs(ctx context.Context, now time.Time) int {
	if !p.cfg.AutoSync.Enabled {
		return 0
	}
	if !p.drive.Configured() {
		return 0
	}
	interval := time.Duration(maxInt(1, p.cfg.AutoSync.IntervalMinutes)) * time.Minute
	batch := maxInt(1, p.cfg.AutoSync.BatchSize)

	events, err := p.eventRepo.ListByStatuses(ctx, autoSyncStatuses, cleanupBatchLimit)
	if err != nil {
		logger.WorkerError("auto_sync_failed", "Failed to list events for auto-sync", err, nil)
		return 0
	}

	queued := 0
	for _, event := range events {
		active, err := p.jobRepo.HasActiveJobForEvent(ctx, event.ID)
		if err != nil || active {
			continue
		}
		lastSync, err := p.jobRepo.LatestSyncJob(ctx, event.ID)
		if err != nil {
			continue
		}
		if lastSync != nil {
			lastAt := lastSync.UpdatedAt
			if lastAt.IsZero() {
				lastAt = lastSync.CreatedAt
			}
			if now.Sub(lastAt) < interval {
				continue
			}
		}

		if err := p.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusSyncing); err != nil {
			logger.WorkerError("auto_sync_failed", "Failed to flip event to syncing", err, map[string]interface{}{
				"event_id": event.ID.String(),
			})
			continue
		}
		eventID := event.ID
		job := &models.Job{
			ID:      uuid.New(),
			Type:    models.JobTypeSyncEvent,
			EventID: &eventID,
			Status:  models.JobStatusQueued,
			Stage:   "queued_for_sync",
		}
		job.SetPayloadMap(map[string]interface{}{"trigger": "auto_refresh"})
		if err := p.jobRepo.Enqueue(ctx, job); err != nil {
			logger.WorkerError("auto_sync_failed", "Failed to enqueue auto-sync job", err, map[string]interface{}{
				"event_id": event.ID.String(),
			})
			continue
		}
		queued++
		if queued >= batch {
			break
		}
	}
	return queued
}
