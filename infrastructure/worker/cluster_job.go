package worker

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/pkg/logger"
)

// runClusterEvent rebuilds the face clusters for one event. Sync reports up
// to 95 percent, so clustering owns the 96..100 band.
func (p *Pipeline) runClusterEvent(ctx context.Context, job *models.Job) error {
	if job.EventID == nil {
		return p.jobRepo.Fail(ctx, job.ID, "cluster_event job missing event_id")
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

	running := ClusterPayload{Phase: "clustering"}
	if err := p.jobRepo.MarkProgress(ctx, job.ID, 96.0, "clustering_faces"); err != nil {
		return err
	}
	if err := p.jobRepo.UpsertPayload(ctx, job.ID, running.Map()); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusRunning, 96.0, "clustering_faces", running.Map())

	clusterCount, err := p.clusterer.RecomputeClusters(ctx, event.ID)
	if err != nil {
		return err
	}

	if err := p.eventRepo.UpdateStatus(ctx, event.ID, models.EventStatusReady); err != nil {
		return err
	}

	done := ClusterPayload{Phase: "completed", ClusterCount: &clusterCount}
	if err := p.jobRepo.Complete(ctx, job.ID, "clustering_completed", done.Map()); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusCompleted, 100, "clustering_completed", done.Map())
	logger.Cluster("clustering_completed", "Event clustering completed", map[string]interface{}{
		"event_id":      event.ID.String(),
		"cluster_count": clusterCount,
	})
	return nil
}
