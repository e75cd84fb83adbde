package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/faceengine"
	"grabpic/infrastructure/googledrive"
	"grabpic/pkg/config"
	"grabpic/pkg/logger"
)

// DriveSource lists and downloads an event's source images.
type DriveSource interface {
	Configured() bool
	ListFolderImages(ctx context.Context, folderID string, maxImages int) ([]googledrive.DriveFile, error)
	DownloadImage(ctx context.Context, fileID string) ([]byte, error)
}

// FaceEmbedder produces embeddings for gallery photos and selfies.
type FaceEmbedder interface {
	EmbedFaces(ctx context.Context, imageBytes []byte, maxFaces int) ([]faceengine.FaceEmbedding, error)
	EmbedSingleFace(ctx context.Context, imageBytes []byte) (*faceengine.FaceEmbedding, error)
}

// MediaStore writes thumbnails and reads guest selfies.
type MediaStore interface {
	SaveThumbnail(eventID uuid.UUID, driveFileID string, imageBytes []byte) (string, error)
	ReadFile(relPath string) ([]byte, error)
	FileExists(relPath string) bool
	DeleteIfExists(relPath string)
}

// ProgressPublisher fans job progress out to the API's websocket hub.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, eventID uuid.UUID, payload interface{}) error
}

// progressEvent is the JSON shape published per progress commit.
type progressEvent struct {
	JobID    string                 `json:"job_id"`
	Type     string                 `json:"type"`
	Status   string                 `json:"status"`
	Progress float64                `json:"progress"`
	Stage    string                 `json:"stage"`
	Counters map[string]interface{} `json:"counters,omitempty"`
}

// Pipeline claims queued jobs and runs sync, cluster and match work. One
// Pipeline spawns worker_concurrency claim loops sharing the DB pool; claim
// atomicity comes from the repository's SKIP LOCKED select.
type Pipeline struct {
	jobRepo     repositories.JobRepository
	eventRepo   repositories.EventRepository
	photoRepo   repositories.PhotoRepository
	clusterRepo repositories.FaceClusterRepository
	guestRepo   repositories.GuestQueryRepository

	drive  DriveSource
	engine FaceEmbedder
	store  MediaStore

	clusterer services.ClusterService
	matcher   services.MatchService

	progress ProgressPublisher // may be nil

	cfg *config.Config

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

func NewPipeline(
	jobRepo repositories.JobRepository,
	eventRepo repositories.EventRepository,
	photoRepo repositories.PhotoRepository,
	clusterRepo repositories.FaceClusterRepository,
	guestRepo repositories.GuestQueryRepository,
	drive DriveSource,
	engine FaceEmbedder,
	store MediaStore,
	clusterer services.ClusterService,
	matcher services.MatchService,
	progress ProgressPublisher,
	cfg *config.Config,
) *Pipeline {
	return &Pipeline{
		jobRepo:     jobRepo,
		eventRepo:   eventRepo,
		photoRepo:   photoRepo,
		clusterRepo: clusterRepo,
		guestRepo:   guestRepo,
		drive:       drive,
		engine:      engine,
		store:       store,
		clusterer:   clusterer,
		matcher:     matcher,
		progress:    progress,
		cfg:         cfg,
	}
}

// Start spawns the claim loops.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	loops := p.cfg.Worker.Concurrency
	if loops < 1 {
		loops = 1
	}
	for i := 0; i < loops; i++ {
		p.wg.Add(1)
		go p.runLoop(i + 1)
	}

	logger.Worker("pipeline_started", "Worker pipeline started", map[string]interface{}{
		"loops": loops,
	})
}

// Stop cancels the loops and waits for in-flight jobs to unwind. A job
// interrupted mid-run stays in running state; the stale reaper requeues it.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	logger.Worker("pipeline_stopped", "Worker pipeline stopped", nil)
}

func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

func (p *Pipeline) runLoop(loopID int) {
	defer p.wg.Done()

	idleSleep := time.Duration(maxInt(1, p.cfg.Worker.IdleSleepSeconds)) * time.Second
	pollInterval := time.Duration(maxInt(1, p.cfg.Worker.PollIntervalSeconds)) * time.Second
	cleanupEvery := maxInt(1, int(60*time.Second/idleSleep))
	idleTicks := 0

	for {
		if p.ctx.Err() != nil {
			return
		}

		job, err := p.jobRepo.ClaimNext(p.ctx)
		if err != nil {
			if p.ctx.Err() == nil {
				logger.WorkerError("claim_failed", "Failed to claim next job", err, map[string]interface{}{
					"loop": loopID,
				})
			}
			if !sleepCtx(p.ctx, pollInterval) {
				return
			}
			continue
		}

		if job == nil {
			idleTicks++
			if idleTicks%cleanupEvery == 0 {
				p.runCleanup(p.ctx)
			}
			if !sleepCtx(p.ctx, idleSleep) {
				return
			}
			continue
		}

		idleTicks = 0
		logger.Worker("job_claimed", "Job claimed", map[string]interface{}{
			"job_id": job.ID.String(),
			"type":   string(job.Type),
			"loop":   loopID,
		})
		if err := p.dispatch(p.ctx, job); err != nil {
			p.handleDispatchError(job, err)
			if !sleepCtx(p.ctx, pollInterval) {
				return
			}
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeSyncEvent:
		return p.runSyncEvent(ctx, job)
	case models.JobTypeClusterEvent:
		return p.runClusterEvent(ctx, job)
	case models.JobTypeMatchGuest:
		return p.runMatchGuest(ctx, job)
	default:
		return p.jobRepo.Fail(ctx, job.ID, fmt.Sprintf("Unsupported job type: %s", job.Type))
	}
}

// handleDispatchError finalizes a job whose handler returned an error. The
// cancel handshake may have fired while the handler was failing, so the row
// is re-read to decide between canceled and failed.
func (p *Pipeline) handleDispatchError(job *models.Job, err error) {
	if p.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Shutdown interrupted the job; leave it running for the reaper.
		logger.Worker("job_interrupted", "Job interrupted by shutdown", map[string]interface{}{
			"job_id": job.ID.String(),
		})
		return
	}

	ctx := p.ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	logger.WorkerError("job_failed", "Job failed", err, map[string]interface{}{
		"job_id": job.ID.String(),
		"type":   string(job.Type),
	})

	latest, getErr := p.jobRepo.GetByID(ctx, job.ID)
	if getErr != nil {
		logger.WorkerError("job_reload_failed", "Failed to reload job after error", getErr, map[string]interface{}{
			"job_id": job.ID.String(),
		})
		return
	}

	if latest.Status == models.JobStatusCanceled || latest.Status == models.JobStatusCancelRequested {
		if cancelErr := p.jobRepo.Cancel(ctx, job.ID, "Canceled by admin"); cancelErr != nil {
			logger.WorkerError("job_cancel_failed", "Failed to finalize canceled job", cancelErr, nil)
		}
		if latest.QueryID != nil {
			_ = p.guestRepo.MarkFailed(ctx, *latest.QueryID, "Matching was canceled by admin.", "Canceled by admin")
		}
		p.publish(ctx, latest, models.JobStatusCanceled, latest.ProgressPercent, "canceled", nil)
		return
	}

	if failErr := p.jobRepo.Fail(ctx, job.ID, err.Error()); failErr != nil {
		logger.WorkerError("job_fail_write_failed", "Failed to mark job failed", failErr, nil)
	}
	if latest.QueryID != nil {
		_ = p.guestRepo.MarkFailed(ctx, *latest.QueryID, "Failed to process selfie", err.Error())
	}
	p.publish(ctx, latest, models.JobStatusFailed, latest.ProgressPercent, "failed", nil)
}

// isCancelRequested is the cooperative cancellation checkpoint.
func (p *Pipeline) isCancelRequested(ctx context.Context, jobID uuid.UUID) bool {
	status, err := p.jobRepo.GetStatus(ctx, jobID)
	if err != nil {
		return false
	}
	return status == models.JobStatusCancelRequested
}

// finalizeEventCancel ends a canceled sync or cluster job and moves the
// event out of its processing state.
func (p *Pipeline) finalizeEventCancel(ctx context.Context, job *models.Job, eventID uuid.UUID) error {
	if err := p.eventRepo.UpdateStatus(ctx, eventID, models.EventStatusCanceled); err != nil {
		return err
	}
	if err := p.jobRepo.UpsertPayload(ctx, job.ID, map[string]interface{}{"phase": "canceled"}); err != nil {
		return err
	}
	if err := p.jobRepo.Cancel(ctx, job.ID, "Canceled by admin"); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusCanceled, job.ProgressPercent, "canceled", nil)
	logger.Worker("job_canceled", "Job canceled", map[string]interface{}{
		"job_id":   job.ID.String(),
		"event_id": eventID.String(),
	})
	return nil
}

// finalizeMatchCancel ends a canceled match job and fails its guest query.
func (p *Pipeline) finalizeMatchCancel(ctx context.Context, job *models.Job, queryID uuid.UUID) error {
	if err := p.guestRepo.MarkFailed(ctx, queryID, "Matching was canceled by admin.", "Canceled by admin"); err != nil {
		return err
	}
	if err := p.jobRepo.UpsertPayload(ctx, job.ID, map[string]interface{}{"phase": "canceled"}); err != nil {
		return err
	}
	if err := p.jobRepo.Cancel(ctx, job.ID, "Canceled by admin"); err != nil {
		return err
	}
	p.publish(ctx, job, models.JobStatusCanceled, job.ProgressPercent, "canceled", nil)
	return nil
}

// publish mirrors a progress commit onto the redis channel. The DB row is
// the source of truth; publish failures are logged and dropped.
func (p *Pipeline) publish(ctx context.Context, job *models.Job, status models.JobStatus, progress float64, stage string, counters map[string]interface{}) {
	if p.progress == nil || job.EventID == nil {
		return
	}
	event := progressEvent{
		JobID:    job.ID.String(),
		Type:     string(job.Type),
		Status:   string(status),
		Progress: clampPercent(progress),
		Stage:    stage,
		Counters: counters,
	}
	if err := p.progress.PublishProgress(ctx, *job.EventID, event); err != nil {
		logger.Warn(logger.CategoryWorker, "progress_publish_failed", "Failed to publish progress event", map[string]interface{}{
			"job_id": job.ID.String(),
			"error":  err.Error(),
		})
	}
}

// sleepCtx sleeps for d unless the context ends first. Returns false when
// the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
