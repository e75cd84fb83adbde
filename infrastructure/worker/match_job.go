package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
)

// matchResultLimit caps how many ranked photos one selfie query keeps.
const matchResultLimit = 160

// runMatchGuest embeds the guest's selfie and ranks the event's photos
// against it. Every outcome (no face, no confident match, matches found)
// completes the job; only infrastructure failures mark it failed.
func (p *Pipeline) runMatchGuest(ctx context.Context, job *models.Job) error {
	if job.QueryID == nil {
		return p.jobRepo.Fail(ctx, job.ID, "match_guest job missing query_id")
	}
	queryID := *job.QueryID
	query, err := p.guestRepo.GetByID(ctx, queryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.jobRepo.Fail(ctx, job.ID, "Guest query not found")
		}
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeMatchCancel(ctx, job, queryID)
	}
	event, err := p.eventRepo.GetByID(ctx, query.EventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := p.guestRepo.MarkFailed(ctx, queryID, "Event not found", "Event not found"); err != nil {
				return err
			}
			return p.jobRepo.Fail(ctx, job.ID, "Event not found")
		}
		return err
	}

	if err := p.guestRepo.UpdateStatus(ctx, queryID, models.GuestQueryStatusRunning, "Matching selfie with clusters..."); err != nil {
		return err
	}
	if err := p.writeMatchProgress(ctx, job, 10.0, "loading_selfie", "loading_selfie"); err != nil {
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeMatchCancel(ctx, job, queryID)
	}

	if !p.store.FileExists(query.SelfiePath) {
		if err := p.guestRepo.MarkFailed(ctx, queryID, "Selfie file missing", "Selfie file missing"); err != nil {
			return err
		}
		return p.jobRepo.Fail(ctx, job.ID, "Selfie file missing")
	}
	selfieBytes, err := p.store.ReadFile(query.SelfiePath)
	if err != nil {
		return err
	}

	// Sync may still be running; the counts qualify the guest-facing
	// messages so an empty result during ingest does not read as final.
	processed, total := p.syncProgressCounts(ctx, event.ID)
	remaining := 0
	if total > 0 && total > processed {
		remaining = total - processed
	}

	face, err := p.engine.EmbedSingleFace(ctx, selfieBytes)
	if err != nil {
		return err
	}
	if face == nil {
		conf := 0.0
		message := "No clear face found in selfie. Please upload a clearer front-facing photo."
		if remaining > 0 {
			message = fmt.Sprintf("No clear face found in selfie. Please upload a clearer front-facing photo. %d photo(s) are still syncing.", remaining)
		}
		if err := p.guestRepo.MarkCompleted(ctx, queryID, &conf, message); err != nil {
			return err
		}
		done := map[string]interface{}{"result": "no_face"}
		if err := p.jobRepo.Complete(ctx, job.ID, "match_completed_no_face", done); err != nil {
			return err
		}
		p.publish(ctx, job, models.JobStatusCompleted, 100, "match_completed_no_face", done)
		logger.Match("match_no_face", "Selfie had no usable face", map[string]interface{}{
			"query_id": queryID.String(),
		})
		return nil
	}

	if err := p.writeMatchProgress(ctx, job, 45.0, "matching faces", "matching_faces"); err != nil {
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeMatchCancel(ctx, job, queryID)
	}

	result, err := p.matcher.RankPhotos(ctx, event.ID, face.Embedding, services.MatchOptions{
		ThresholdPercent:  p.cfg.Match.ThresholdPercent,
		TopMargin:         p.cfg.Match.TopMargin,
		RelaxDrop:         p.cfg.Match.AutoRelaxDrop,
		RelaxMinThreshold: p.cfg.Match.AutoRelaxMinThreshold,
		MaxResults:        matchResultLimit,
	})
	if err != nil {
		return err
	}
	if len(result.Ranked) == 0 {
		conf := 0.0
		message := "No confident match found. Try a clearer selfie."
		if remaining > 0 {
			message = fmt.Sprintf("No confident match found in %d processed photo(s). %d photo(s) are still syncing.", processed, remaining)
		}
		if err := p.guestRepo.MarkCompleted(ctx, queryID, &conf, message); err != nil {
			return err
		}
		done := map[string]interface{}{
			"result":            "no_confident_match",
			"threshold_percent": result.UsedThresholdPercent,
		}
		if err := p.jobRepo.Complete(ctx, job.ID, "match_completed_no_confident_cluster", done); err != nil {
			return err
		}
		p.publish(ctx, job, models.JobStatusCompleted, 100, "match_completed_no_confident_cluster", done)
		logger.Match("match_no_confident", "No photo cleared the threshold", map[string]interface{}{
			"query_id":          queryID.String(),
			"threshold_percent": result.UsedThresholdPercent,
		})
		return nil
	}

	if err := p.writeMatchProgress(ctx, job, 70.0, "assembling_photo_results", "assembling_photo_results"); err != nil {
		return err
	}
	if p.isCancelRequested(ctx, job.ID) {
		return p.finalizeMatchCancel(ctx, job, queryID)
	}

	if err := p.matcher.StoreResults(ctx, queryID, result.Ranked); err != nil {
		return err
	}

	topConfidence := 0.0
	for _, ranked := range result.Ranked {
		if ranked.ScoreRatio > topConfidence {
			topConfidence = ranked.ScoreRatio
		}
	}
	message := fmt.Sprintf("Found %d matching photo(s).", len(result.Ranked))
	if remaining > 0 {
		message = fmt.Sprintf("Found %d matching photo(s) from %d processed photo(s). %d photo(s) are still syncing.", len(result.Ranked), processed, remaining)
	}
	if err := p.guestRepo.MarkCompleted(ctx, queryID, &topConfidence, message); err != nil {
		return err
	}
	done := map[string]interface{}{
		"cluster_id":              nil,
		"confidence":              topConfidence,
		"photos":                  len(result.Ranked),
		"threshold_percent":       result.UsedThresholdPercent,
		"adaptive_threshold_used": result.Relaxed,
	}
	if err := p.jobRepo.Complete(ctx, job.ID, "match_completed", done); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusCompleted, 100, "match_completed", done)
	logger.Match("match_completed", "Selfie matching completed", map[string]interface{}{
		"query_id":          queryID.String(),
		"photos":            len(result.Ranked),
		"confidence":        topConfidence,
		"relaxed_threshold": result.Relaxed,
	})
	return nil
}

// writeMatchProgress commits stage plus the steps marker and mirrors both
// to the progress channel. Stage is human readable, step is machine keyed.
func (p *Pipeline) writeMatchProgress(ctx context.Context, job *models.Job, percent float64, stage, step string) error {
	if err := p.jobRepo.MarkProgress(ctx, job.ID, percent, stage); err != nil {
		return err
	}
	payload := MatchPayload{Phase: "matching", Steps: step}
	counters := payload.Map()
	if err := p.jobRepo.UpsertPayload(ctx, job.ID, counters); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusRunning, percent, stage, counters)
	return nil
}

// syncProgressCounts derives (processed, total) for guest messaging from the
// latest sync job's counters, falling back to the live photo count. The photo
// table can run ahead of a stale payload, so processed is floored by it.
func (p *Pipeline) syncProgressCounts(ctx context.Context, eventID uuid.UUID) (int, int) {
	processed, total := 0, 0
	if syncJob, err := p.jobRepo.LatestSyncJob(ctx, eventID); err == nil && syncJob != nil {
		total = firstPositive(syncJob.PayloadInt("total_listed"), syncJob.PayloadInt("total_photos"))
		processed = firstPositive(syncJob.PayloadInt("completed"), syncJob.PayloadInt("processed"))
	}
	photoCount := 0
	if n, err := p.photoRepo.CountByEvent(ctx, eventID); err == nil {
		photoCount = int(n)
	}
	if total <= 0 {
		total = photoCount
	}
	if processed <= 0 {
		processed = photoCount
	}
	if photoCount > processed {
		processed = photoCount
	}
	if total > 0 && processed > total {
		processed = total
	}
	return processed, total
}
