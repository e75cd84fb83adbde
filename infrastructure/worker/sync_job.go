package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/infrastructure/googledrive"
	"grabpic/pkg/logger"
)

// syncMaxFacesPerImage caps detection on gallery photos. Group shots at
// events rarely carry more usable faces than this.
const syncMaxFacesPerImage = 20

type refreshItem struct {
	file  googledrive.DriveFile
	stamp string
}

// runSyncEvent ingests the event's Drive folder: list, diff against stored
// content stamps, refresh changed photos (thumbnail + faces), drop photos
// gone from Drive, then hand off to clustering when anything changed.
func (p *Pipeline) runSyncEvent(ctx context.Context, job *models.Job) error {
	if job.EventID == nil {
		return p.jobRepo.Fail(ctx, job.ID, "sync_event job missing event_id")
	}
	event, err := p.eventRepo.GetByID(ctx, *job.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.jobRepo.Fail(ctx, job.ID, "Event not found")
		}
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeEventCancel(ctx, job, event.ID)
	}

	payload := &SyncPayload{Phase: "listing"}
	if err := p.writeSyncProgress(ctx, job, 1.0, "listing_drive_files", payload); err != nil {
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeEventCancel(ctx, job, event.ID)
	}

	listed, err := p.drive.ListFolderImages(ctx, event.DriveFolderID, p.cfg.Drive.MaxSyncImages)
	if err != nil {
		return err
	}
	files := make([]googledrive.DriveFile, 0, len(listed))
	for _, f := range listed {
		if strings.TrimSpace(f.ID) != "" {
			files = append(files, f)
		}
	}

	total := len(files)
	if total == 0 {
		if err := p.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusReady); err != nil {
			return err
		}
		p.markSynced(ctx, event.ID)
		done := &SyncPayload{Phase: "completed"}
		if err := p.jobRepo.Complete(ctx, job.ID, "completed_no_images", done.Map()); err != nil {
			return err
		}
		p.publish(ctx, job, models.JobStatusCompleted, 100, "completed_no_images", done.Map())
		logger.Sync("sync_no_images", "Drive folder has no images", map[string]interface{}{
			"event_id": event.ID.String(),
		})
		return nil
	}

	existing, err := p.photoRepo.GetAllByEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	stamps := make(map[string]string, len(existing))
	for _, photo := range existing {
		if photo.DriveFileID == "" {
			continue
		}
		stamps[photo.DriveFileID] = photo.ContentStamp
	}

	queue := make([]refreshItem, 0, total)
	seen := make([]string, 0, total)
	reused := 0
	for _, f := range files {
		seen = append(seen, f.ID)
		stamp := googledrive.ContentStamp(f)
		if prev, ok := stamps[f.ID]; ok && prev == stamp {
			reused++
			continue
		}
		queue = append(queue, refreshItem{file: f, stamp: stamp})
	}

	payload = &SyncPayload{
		Phase:             "processing",
		TotalListed:       total,
		Completed:         reused,
		Processed:         reused,
		ReusedFiles:       reused,
		RefreshQueueTotal: len(queue),
	}
	if reused > 0 {
		stage := fmt.Sprintf("resuming from %d/%d", reused, total)
		if err := p.writeSyncProgress(ctx, job, syncPercent(reused, total), stage, payload); err != nil {
			return err
		}
	}

	refreshed, failures, matchedFaces := 0, 0, 0
	processed := reused
	for i, item := range queue {
		if p.isCancelRequested(ctx, job.ID) {
			return p.finalizeEventCancel(ctx, job, event.ID)
		}

		fileID := item.file.ID
		faceCount, err := p.refreshPhoto(ctx, event, item)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failures++
			logger.SyncError("file_skipped", "Skipping Drive file after error", err, map[string]interface{}{
				"event_id": event.ID.String(),
				"file_id":  fileID,
			})
		} else {
			matchedFaces += faceCount
			refreshed++
			processed++
		}

		overall := reused + i + 1
		payload.Completed = overall
		payload.Processed = processed
		payload.MatchedFaces = matchedFaces
		payload.RefreshedFiles = refreshed
		payload.Failures = failures
		payload.CurrentFileID = fileID
		payload.CurrentFileName = fileNameOrID(item.file)
		stage := fmt.Sprintf("processing image %d/%d", overall, total)
		if err := p.writeSyncProgress(ctx, job, syncPercent(overall, total), stage, payload); err != nil {
			return err
		}
	}

	orphans, err := p.photoRepo.GetNotInDriveIDs(ctx, event.ID, seen)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		ids := make([]uuid.UUID, 0, len(orphans))
		for _, photo := range orphans {
			p.store.DeleteIfExists(photo.ThumbnailPath)
			ids = append(ids, photo.ID)
		}
		removed, err := p.photoRepo.DeleteByIDs(ctx, ids)
		if err != nil {
			return err
		}
		logger.Sync("orphans_removed", "Removed photos no longer in Drive", map[string]interface{}{
			"event_id": event.ID.String(),
			"removed":  removed,
		})
	}

	clusterCount, err := p.clusterRepo.CountByEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	shouldRecluster := refreshed > 0 || failures > 0 || clusterCount == 0
	if shouldRecluster {
		if err := p.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusProcessingClusters); err != nil {
			return err
		}
		clusterJob := &models.Job{
			ID:      uuid.New(),
			Type:    models.JobTypeClusterEvent,
			EventID: &event.ID,
			Status:  models.JobStatusQueued,
			Stage:   "queued_for_clustering",
		}
		clusterJob.SetPayloadMap(map[string]interface{}{
			"trigger":       "after_sync",
			"source_job_id": job.ID.String(),
		})
		if err := p.jobRepo.Enqueue(ctx, clusterJob); err != nil {
			return err
		}
	} else {
		if err := p.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusReady); err != nil {
			return err
		}
	}
	p.markSynced(ctx, event.ID)

	stage := "sync_completed"
	if !shouldRecluster {
		stage = "sync_completed_reused"
	}
	clusterReused := !shouldRecluster
	payload.Phase = "completed"
	payload.Completed = total
	payload.CurrentFileID = ""
	payload.CurrentFileName = ""
	payload.ClusterReused = &clusterReused
	if err := p.jobRepo.Complete(ctx, job.ID, stage, payload.Map()); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusCompleted, 100, stage, payload.Map())
	logger.Sync("sync_completed", "Event sync completed", map[string]interface{}{
		"event_id":  event.ID.String(),
		"total":     total,
		"refreshed": refreshed,
		"reused":    reused,
		"failures":  failures,
		"recluster": shouldRecluster,
	})
	return nil
}

// refreshPhoto downloads one Drive file, regenerates its thumbnail and
// replaces its face rows. Returns the number of faces indexed.
func (p *Pipeline) refreshPhoto(ctx context.Context, event *models.Event, item refreshItem) (int, error) {
	fileID := item.file.ID

	imageBytes, err := p.drive.DownloadImage(ctx, fileID)
	if err != nil {
		return 0, err
	}
	thumbPath, err := p.store.SaveThumbnail(event.ID, fileID, imageBytes)
	if err != nil {
		return 0, err
	}
	faces, err := p.engine.EmbedFaces(ctx, imageBytes, syncMaxFacesPerImage)
	if err != nil {
		return 0, err
	}

	photo := &models.Photo{
		EventID:       event.ID,
		DriveFileID:   fileID,
		FileName:      fileNameOrID(item.file),
		MimeType:      item.file.MimeType,
		WebViewURL:    item.file.WebViewURL,
		PreviewURL:    googledrive.PreviewURL(fileID),
		DownloadURL:   googledrive.PublicDownloadURL(fileID),
		ThumbnailPath: thumbPath,
		ContentStamp:  item.stamp,
		Status:        "ok",
	}
	if photo.MimeType == "" {
		photo.MimeType = "image/jpeg"
	}
	if photo.WebViewURL == "" {
		photo.WebViewURL = googledrive.FileViewURL(fileID)
	}

	faceModels := make([]*models.Face, 0, len(faces))
	for idx, face := range faces {
		faceModels = append(faceModels, &models.Face{
			FaceIndex:     idx,
			Embedding:     models.Vector512(face.Embedding),
			AreaRatio:     face.AreaRatio,
			DetConfidence: face.DetConfidence,
			Sharpness:     face.Sharpness,
			BboxX:         face.BboxX,
			BboxY:         face.BboxY,
			BboxWidth:     face.BboxWidth,
			BboxHeight:    face.BboxHeight,
		})
	}
	if err := p.photoRepo.SaveWithFaces(ctx, photo, faceModels); err != nil {
		return 0, err
	}
	return len(faceModels), nil
}

// writeSyncProgress commits the stage and counters, then mirrors them to
// the progress channel.
func (p *Pipeline) writeSyncProgress(ctx context.Context, job *models.Job, percent float64, stage string, payload *SyncPayload) error {
	percent = clampPercent(percent)
	if err := p.jobRepo.MarkProgress(ctx, job.ID, percent, stage); err != nil {
		return err
	}
	counters := payload.Map()
	if err := p.jobRepo.UpsertPayload(ctx, job.ID, counters); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusRunning, percent, stage, counters)
	return nil
}

func (p *Pipeline) markSynced(ctx context.Context, eventID uuid.UUID) {
	if err := p.eventRepo.MarkSynced(ctx, eventID, time.Now().UTC()); err != nil {
		logger.Warn(logger.CategorySync, "mark_synced_failed", "Failed to stamp last_synced_at", map[string]interface{}{
			"event_id": eventID.String(),
			"error":    err.Error(),
		})
	}
}

// syncPercent maps per-image progress into the 2..95 band; listing owns the
// low end and clustering owns the tail above 95.
func syncPercent(completed, total int) float64 {
	if total <= 0 {
		return 2
	}
	percent := float64(completed) / float64(total) * 100
	if percent < 2 {
		return 2
	}
	if percent > 95 {
		return 95
	}
	return percent
}

func fileNameOrID(f googledrive.DriveFile) string {
	if strings.TrimSpace(f.Name) != "" {
		return f.Name
	}
	return f.ID
}
