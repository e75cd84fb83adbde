package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/faceengine"
	"grabpic/infrastructure/googledrive"
	"grabpic/pkg/config"
)

// --- in-memory fakes -------------------------------------------------------

type memJobRepo struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	enqueued []*models.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]*models.Job{}}
}

func (r *memJobRepo) add(job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *memJobRepo) get(id uuid.UUID) *models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *memJobRepo) Enqueue(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r.jobs[job.ID] = job
	r.enqueued = append(r.enqueued, job)
	return nil
}

func (r *memJobRepo) ClaimNext(ctx context.Context) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.Job
	for _, job := range r.jobs {
		if job.Status != models.JobStatusQueued {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusRunning
	oldest.Stage = "running"
	oldest.StartedAt = &now
	oldest.LockedAt = &now
	oldest.Attempts++
	return oldest, nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if job := r.get(id); job != nil {
		return job, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memJobRepo) GetStatus(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	job := r.get(id)
	if job == nil {
		return "", gorm.ErrRecordNotFound
	}
	return job.Status, nil
}

func (r *memJobRepo) MarkProgress(ctx context.Context, id uuid.UUID, percent float64, stage string) error {
	job := r.get(id)
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ProgressPercent = percent
	job.Stage = stage
	return nil
}

func (r *memJobRepo) UpsertPayload(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	job := r.get(id)
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job.MergePayload(updates)
	return nil
}

func (r *memJobRepo) Complete(ctx context.Context, id uuid.UUID, stage string, payload map[string]interface{}) error {
	job := r.get(id)
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if stage == "" {
		stage = "completed"
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.ProgressPercent = 100
	job.Stage = stage
	job.CompletedAt = &now
	if payload != nil {
		job.SetPayloadMap(payload)
	}
	return nil
}

func (r *memJobRepo) Fail(ctx context.Context, id uuid.UUID, message string) error {
	job := r.get(id)
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if message == "" {
		message = "Job failed"
	}
	job.Status = models.JobStatusFailed
	job.Stage = "failed"
	job.ErrorText = message
	return nil
}

func (r *memJobRepo) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	job := r.get(id)
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if reason == "" {
		reason = "Canceled"
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusCanceled
	job.Stage = "canceled"
	job.ErrorText = reason
	job.CompletedAt = &now
	return nil
}

func (r *memJobRepo) RequestCancel(ctx context.Context, id uuid.UUID, reason string) (*models.Job, error) {
	job := r.get(id)
	if job == nil {
		return nil, gorm.ErrRecordNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case job.Status.Terminal() || job.Status == models.JobStatusCancelRequested:
	case job.Status == models.JobStatusRunning:
		job.Status = models.JobStatusCancelRequested
		job.Stage = "cancel_requested"
		job.ErrorText = reason
	default:
		now := time.Now().UTC()
		job.Status = models.JobStatusCanceled
		job.Stage = "canceled"
		job.ErrorText = reason
		job.CompletedAt = &now
	}
	return job, nil
}

func (r *memJobRepo) ListByEvent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Job{}
	for _, job := range r.jobs {
		if job.EventID != nil && *job.EventID == eventID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *memJobRepo) latest(eventID uuid.UUID, match func(*models.Job) bool) *models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *models.Job
	for _, job := range r.jobs {
		if job.EventID == nil || *job.EventID != eventID || !match(job) {
			continue
		}
		if newest == nil || job.UpdatedAt.After(newest.UpdatedAt) {
			newest = job
		}
	}
	return newest
}

func (r *memJobRepo) LatestProcessingJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latest(eventID, func(j *models.Job) bool {
		return j.Type == models.JobTypeSyncEvent || j.Type == models.JobTypeClusterEvent
	}), nil
}

func (r *memJobRepo) LatestSyncJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latest(eventID, func(j *models.Job) bool { return j.Type == models.JobTypeSyncEvent }), nil
}

func (r *memJobRepo) LatestCancelableJob(ctx context.Context, eventID uuid.UUID) (*models.Job, error) {
	return r.latest(eventID, func(j *models.Job) bool {
		if j.Type != models.JobTypeSyncEvent && j.Type != models.JobTypeClusterEvent {
			return false
		}
		return j.Status == models.JobStatusQueued || j.Status == models.JobStatusRunning || j.Status == models.JobStatusCancelRequested
	}), nil
}

func (r *memJobRepo) HasActiveJobForEvent(ctx context.Context, eventID uuid.UUID) (bool, error) {
	job, _ := r.LatestCancelableJob(ctx, eventID)
	return job != nil, nil
}

func (r *memJobRepo) RequeueStale(ctx context.Context, olderThan time.Time, maxAttempts int) (int64, int64, error) {
	return 0, 0, nil
}

type memEventRepo struct {
	mu       sync.Mutex
	events   map[uuid.UUID]*models.Event
	statuses []models.EventStatus
	syncedAt map[uuid.UUID]time.Time
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{events: map[uuid.UUID]*models.Event{}, syncedAt: map[uuid.UUID]time.Time{}}
}

func (r *memEventRepo) add(event *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
}

func (r *memEventRepo) Create(ctx context.Context, event *models.Event) error {
	r.add(event)
	return nil
}

func (r *memEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event, ok := r.events[id]; ok {
		return event, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memEventRepo) GetBySlug(ctx context.Context, slug string) (*models.Event, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *memEventRepo) SlugExists(ctx context.Context, slug string, excludeID uuid.UUID) (bool, error) {
	return false, nil
}

func (r *memEventRepo) GetByOwner(ctx context.Context, ownerID uuid.UUID, offset, limit int) ([]models.Event, int64, error) {
	return nil, 0, nil
}

func (r *memEventRepo) Update(ctx context.Context, id uuid.UUID, event *models.Event) error {
	return nil
}

func (r *memEventRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	event.Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *memEventRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncedAt[id] = at
	return nil
}

func (r *memEventRepo) ListByStatuses(ctx context.Context, statuses []models.EventStatus, limit int) ([]models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Event{}
	for _, event := range r.events {
		for _, status := range statuses {
			if event.Status == status {
				out = append(out, *event)
				break
			}
		}
	}
	return out, nil
}

func (r *memEventRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type memPhotoRepo struct {
	mu      sync.Mutex
	photos  []*models.Photo
	faces   map[string][]*models.Face
	deleted []uuid.UUID
}

func (r *memPhotoRepo) add(photo *models.Photo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, photo)
}

func (r *memPhotoRepo) byDriveID(driveFileID string) *models.Photo {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, photo := range r.photos {
		if photo.DriveFileID == driveFileID {
			return photo
		}
	}
	return nil
}

func (r *memPhotoRepo) Create(ctx context.Context, photo *models.Photo) error {
	r.add(photo)
	return nil
}

func (r *memPhotoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *memPhotoRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Photo, error) {
	return nil, nil
}

func (r *memPhotoRepo) GetByEventAndDriveFileID(ctx context.Context, eventID uuid.UUID, driveFileID string) (*models.Photo, error) {
	if photo := r.byDriveID(driveFileID); photo != nil {
		return photo, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memPhotoRepo) GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.Photo, int64, error) {
	return nil, 0, nil
}

func (r *memPhotoRepo) GetAllByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Photo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Photo{}
	for _, photo := range r.photos {
		if photo.EventID == eventID {
			out = append(out, *photo)
		}
	}
	return out, nil
}

func (r *memPhotoRepo) SaveWithFaces(ctx context.Context, photo *models.Photo, faces []*models.Face) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.faces == nil {
		r.faces = map[string][]*models.Face{}
	}
	for i, existing := range r.photos {
		if existing.EventID == photo.EventID && existing.DriveFileID == photo.DriveFileID {
			photo.ID = existing.ID
			r.photos[i] = photo
			r.faces[photo.DriveFileID] = faces
			return nil
		}
	}
	if photo.ID == uuid.Nil {
		photo.ID = uuid.New()
	}
	r.photos = append(r.photos, photo)
	r.faces[photo.DriveFileID] = faces
	return nil
}

func (r *memPhotoRepo) Update(ctx context.Context, id uuid.UUID, photo *models.Photo) error {
	return nil
}

func (r *memPhotoRepo) GetNotInDriveIDs(ctx context.Context, eventID uuid.UUID, driveFileIDs []string) ([]models.Photo, error) {
	keep := map[string]bool{}
	for _, id := range driveFileIDs {
		keep[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Photo{}
	for _, photo := range r.photos {
		if photo.EventID == eventID && !keep[photo.DriveFileID] {
			out = append(out, *photo)
		}
	}
	return out, nil
}

func (r *memPhotoRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.photos[:0]
	var removed int64
	for _, photo := range r.photos {
		if drop[photo.ID] {
			removed++
			r.deleted = append(r.deleted, photo.ID)
			continue
		}
		kept = append(kept, photo)
	}
	r.photos = kept
	return removed, nil
}

func (r *memPhotoRepo) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, photo := range r.photos {
		if photo.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (r *memPhotoRepo) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type memClusterRepo struct {
	count    int64
	replaced int
}

func (r *memClusterRepo) ReplaceForEvent(ctx context.Context, eventID uuid.UUID, clusters []*models.FaceCluster, labels map[int][]uuid.UUID) error {
	r.replaced++
	r.count = int64(len(clusters))
	return nil
}

func (r *memClusterRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.FaceCluster, error) {
	return nil, nil
}

func (r *memClusterRepo) CountByEvent(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return r.count, nil
}

type guestCompletion struct {
	confidence *float64
	message    string
}

type memGuestRepo struct {
	mu        sync.Mutex
	queries   map[uuid.UUID]*models.GuestQuery
	statusMsg string
	completed map[uuid.UUID]guestCompletion
	failedMsg string
	failedErr string
	cleared   []uuid.UUID
	expired   []models.GuestQuery
}

func newMemGuestRepo() *memGuestRepo {
	return &memGuestRepo{
		queries:   map[uuid.UUID]*models.GuestQuery{},
		completed: map[uuid.UUID]guestCompletion{},
	}
}

func (r *memGuestRepo) add(query *models.GuestQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[query.ID] = query
}

func (r *memGuestRepo) Create(ctx context.Context, query *models.GuestQuery) error {
	r.add(query)
	return nil
}

func (r *memGuestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GuestQuery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if query, ok := r.queries[id]; ok {
		return query, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memGuestRepo) GetByEvent(ctx context.Context, eventID uuid.UUID, offset, limit int) ([]models.GuestQuery, int64, error) {
	return nil, 0, nil
}

func (r *memGuestRepo) Update(ctx context.Context, id uuid.UUID, query *models.GuestQuery) error {
	return nil
}

func (r *memGuestRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.GuestQueryStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if query, ok := r.queries[id]; ok {
		query.Status = status
	}
	if message != "" {
		r.statusMsg = message
	}
	return nil
}

func (r *memGuestRepo) MarkFailed(ctx context.Context, id uuid.UUID, message, errorText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if query, ok := r.queries[id]; ok {
		query.Status = models.GuestQueryStatusFailed
	}
	r.failedMsg = message
	r.failedErr = errorText
	return nil
}

func (r *memGuestRepo) MarkCompleted(ctx context.Context, id uuid.UUID, confidence *float64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if query, ok := r.queries[id]; ok {
		query.Status = models.GuestQueryStatusCompleted
	}
	r.completed[id] = guestCompletion{confidence: confidence, message: message}
	return nil
}

func (r *memGuestRepo) ReplaceResults(ctx context.Context, queryID uuid.UUID, results []*models.GuestResult) error {
	return nil
}

func (r *memGuestRepo) GetResults(ctx context.Context, queryID uuid.UUID) ([]models.GuestResult, error) {
	return nil, nil
}

func (r *memGuestRepo) ListExpiredWithSelfies(ctx context.Context, now time.Time, limit int) ([]models.GuestQuery, error) {
	return r.expired, nil
}

func (r *memGuestRepo) ClearSelfiePath(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, id)
	return nil
}

type fakeDrive struct {
	configured   bool
	files        []googledrive.DriveFile
	images       map[string][]byte
	listErr      error
	failDownload map[string]error
}

func (d *fakeDrive) Configured() bool { return d.configured }

func (d *fakeDrive) ListFolderImages(ctx context.Context, folderID string, maxImages int) ([]googledrive.DriveFile, error) {
	return d.files, d.listErr
}

func (d *fakeDrive) DownloadImage(ctx context.Context, fileID string) ([]byte, error) {
	if err, ok := d.failDownload[fileID]; ok {
		return nil, err
	}
	if img, ok := d.images[fileID]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("no image for %s", fileID)
}

type fakeEmbedder struct {
	faces     []faceengine.FaceEmbedding
	single    *faceengine.FaceEmbedding
	singleErr error
}

func (e *fakeEmbedder) EmbedFaces(ctx context.Context, imageBytes []byte, maxFaces int) ([]faceengine.FaceEmbedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.faces, nil
}

func (e *fakeEmbedder) EmbedSingleFace(ctx context.Context, imageBytes []byte) (*faceengine.FaceEmbedding, error) {
	return e.single, e.singleErr
}

type memStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}}
}

func (s *memStore) SaveThumbnail(eventID uuid.UUID, driveFileID string, imageBytes []byte) (string, error) {
	path := fmt.Sprintf("thumbnails/%s/%s.jpg", eventID, driveFileID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = imageBytes
	return path, nil
}

func (s *memStore) ReadFile(relPath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.files[relPath]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("missing file %s", relPath)
}

func (s *memStore) FileExists(relPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[relPath]
	return ok
}

func (s *memStore) DeleteIfExists(relPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, relPath)
	s.deleted = append(s.deleted, relPath)
}

type fakeClusterer struct {
	count   int
	err     error
	eventID uuid.UUID
	calls   int
}

func (c *fakeClusterer) RecomputeClusters(ctx context.Context, eventID uuid.UUID) (int, error) {
	c.eventID = eventID
	c.calls++
	return c.count, c.err
}

type fakeMatcher struct {
	result  *services.MatchResult
	err     error
	opts    services.MatchOptions
	eventID uuid.UUID
	storedQ uuid.UUID
	stored  []services.RankedPhoto
}

func (m *fakeMatcher) RankPhotos(ctx context.Context, eventID uuid.UUID, selfie []float32, opts services.MatchOptions) (*services.MatchResult, error) {
	m.eventID = eventID
	m.opts = opts
	return m.result, m.err
}

func (m *fakeMatcher) StoreResults(ctx context.Context, queryID uuid.UUID, ranked []services.RankedPhoto) error {
	m.storedQ = queryID
	m.stored = ranked
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *capturePublisher) PublishProgress(ctx context.Context, eventID uuid.UUID, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return nil
}

// --- fixture ---------------------------------------------------------------

type pipelineFixture struct {
	jobs      *memJobRepo
	events    *memEventRepo
	photos    *memPhotoRepo
	clusters  *memClusterRepo
	guests    *memGuestRepo
	drive     *fakeDrive
	engine    *fakeEmbedder
	store     *memStore
	clusterer *fakeClusterer
	matcher   *fakeMatcher
	pub       *capturePublisher
	cfg       *config.Config
	p         *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		jobs:      newMemJobRepo(),
		events:    newMemEventRepo(),
		photos:    &memPhotoRepo{},
		clusters:  &memClusterRepo{},
		guests:    newMemGuestRepo(),
		drive:     &fakeDrive{configured: true, images: map[string][]byte{}},
		engine:    &fakeEmbedder{},
		store:     newMemStore(),
		clusterer: &fakeClusterer{},
		matcher:   &fakeMatcher{},
		pub:       &capturePublisher{},
		cfg: &config.Config{
			Drive: config.DriveConfig{MaxSyncImages: 500},
			Match: config.MatchConfig{
				ThresholdPercent:      90,
				TopMargin:             8,
				AutoRelaxDrop:         8,
				AutoRelaxMinThreshold: 78,
			},
			Worker:   config.WorkerConfig{PollIntervalSeconds: 1, IdleSleepSeconds: 1, Concurrency: 1, MaxAttempts: 3},
			AutoSync: config.AutoSyncConfig{Enabled: true, IntervalMinutes: 10, BatchSize: 3},
		},
	}
	f.p = NewPipeline(f.jobs, f.events, f.photos, f.clusters, f.guests,
		f.drive, f.engine, f.store, f.clusterer, f.matcher, f.pub, f.cfg)
	return f
}

func (f *pipelineFixture) seedEvent(status models.EventStatus) *models.Event {
	event := &models.Event{
		ID:            uuid.New(),
		Name:          "Wedding",
		Slug:          "wedding",
		DriveFolderID: "folder-1",
		Status:        status,
	}
	f.events.add(event)
	return event
}

func (f *pipelineFixture) seedSyncJob(eventID uuid.UUID) *models.Job {
	job := &models.Job{
		ID:        uuid.New(),
		Type:      models.JobTypeSyncEvent,
		EventID:   &eventID,
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	f.jobs.add(job)
	return job
}

func (f *pipelineFixture) seedMatchJob(queryID uuid.UUID, eventID uuid.UUID) *models.Job {
	job := &models.Job{
		ID:        uuid.New(),
		Type:      models.JobTypeMatchGuest,
		EventID:   &eventID,
		QueryID:   &queryID,
		Status:    models.JobStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	f.jobs.add(job)
	return job
}

func (f *pipelineFixture) seedQuery(eventID uuid.UUID, selfie []byte) *models.GuestQuery {
	query := &models.GuestQuery{
		ID:         uuid.New(),
		EventID:    eventID,
		Status:     models.GuestQueryStatusQueued,
		SelfiePath: "selfies/" + eventID.String() + "/selfie.jpg",
	}
	f.guests.add(query)
	if selfie != nil {
		f.store.files[query.SelfiePath] = selfie
	}
	return query
}

func driveFile(id, name, modified string) googledrive.DriveFile {
	return googledrive.DriveFile{
		ID:           id,
		Name:         name,
		MimeType:     "image/jpeg",
		Size:         1024,
		ModifiedTime: modified,
	}
}

func testFace() faceengine.FaceEmbedding {
	embedding := make([]float32, models.EmbeddingDim)
	embedding[0] = 1
	return faceengine.FaceEmbedding{
		Embedding:     embedding,
		AreaRatio:     0.05,
		DetConfidence: 0.9,
		Sharpness:     80,
		BboxX:         10, BboxY: 10, BboxWidth: 40, BboxHeight: 40,
	}
}

// --- sync ------------------------------------------------------------------

func TestSyncRefreshesChangedAndQueuesClustering(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	job := f.seedSyncJob(event.ID)

	f.drive.files = []googledrive.DriveFile{
		driveFile("a", "a.jpg", "2026-01-01T00:00:00Z"),
		driveFile("b", "b.jpg", "2026-01-02T00:00:00Z"),
		driveFile("c", "c.jpg", "2026-01-03T00:00:00Z"),
	}
	f.drive.images["b"] = []byte("image-b")
	f.drive.images["c"] = []byte("image-c")
	f.engine.faces = []faceengine.FaceEmbedding{testFace(), testFace()}

	// "a" is unchanged, "gone" is no longer listed on Drive.
	f.photos.add(&models.Photo{
		ID: uuid.New(), EventID: event.ID, DriveFileID: "a",
		ContentStamp: googledrive.ContentStamp(f.drive.files[0]),
	})
	orphanThumb := "thumbnails/" + event.ID.String() + "/gone.jpg"
	f.photos.add(&models.Photo{
		ID: uuid.New(), EventID: event.ID, DriveFileID: "gone",
		ThumbnailPath: orphanThumb,
	})

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "sync_completed", job.Stage)
	assert.Equal(t, 3, job.PayloadInt("total_listed"))
	assert.Equal(t, 3, job.PayloadInt("completed"))
	assert.Equal(t, 3, job.PayloadInt("processed"))
	assert.Equal(t, 1, job.PayloadInt("reused_files"))
	assert.Equal(t, 2, job.PayloadInt("refreshed_files"))
	assert.Equal(t, 4, job.PayloadInt("matched_faces"))
	assert.Equal(t, 0, job.PayloadInt("failures"))
	assert.Equal(t, false, job.PayloadMap()["cluster_reused"])

	assert.NotNil(t, f.photos.byDriveID("b"))
	assert.NotNil(t, f.photos.byDriveID("c"))
	assert.Nil(t, f.photos.byDriveID("gone"), "orphan removed")
	assert.Contains(t, f.store.deleted, orphanThumb)
	assert.Len(t, f.photos.faces["b"], 2)

	saved := f.photos.byDriveID("b")
	assert.Equal(t, "b.jpg", saved.FileName)
	assert.Equal(t, googledrive.PreviewURL("b"), saved.PreviewURL)
	assert.Equal(t, googledrive.PublicDownloadURL("b"), saved.DownloadURL)
	assert.Equal(t, "ok", saved.Status)
	assert.NotEmpty(t, saved.ContentStamp)

	require.Len(t, f.jobs.enqueued, 1)
	clusterJob := f.jobs.enqueued[0]
	assert.Equal(t, models.JobTypeClusterEvent, clusterJob.Type)
	assert.Equal(t, "queued_for_clustering", clusterJob.Stage)
	assert.Equal(t, "after_sync", clusterJob.PayloadMap()["trigger"])
	assert.Equal(t, job.ID.String(), clusterJob.PayloadMap()["source_job_id"])

	assert.Equal(t, models.EventStatusProcessingClusters, f.events.events[event.ID].Status)
	_, synced := f.events.syncedAt[event.ID]
	assert.True(t, synced)
	assert.NotEmpty(t, f.pub.events, "progress published")
}

func TestSyncSkipsClusteringWhenNothingChanged(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	job := f.seedSyncJob(event.ID)

	f.drive.files = []googledrive.DriveFile{driveFile("a", "a.jpg", "2026-01-01T00:00:00Z")}
	f.photos.add(&models.Photo{
		ID: uuid.New(), EventID: event.ID, DriveFileID: "a",
		ContentStamp: googledrive.ContentStamp(f.drive.files[0]),
	})
	f.clusters.count = 2

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "sync_completed_reused", job.Stage)
	assert.Equal(t, true, job.PayloadMap()["cluster_reused"])
	assert.Empty(t, f.jobs.enqueued, "no cluster job queued")
	assert.Equal(t, models.EventStatusReady, f.events.events[event.ID].Status)
}

func TestSyncEmptyFolderCompletesWithoutClustering(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	job := f.seedSyncJob(event.ID)

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "completed_no_images", job.Stage)
	assert.Equal(t, "completed", job.PayloadMap()["phase"])
	assert.Equal(t, models.EventStatusReady, f.events.events[event.ID].Status)
	assert.Empty(t, f.jobs.enqueued)
}

func TestSyncCountsPerFileFailuresAndContinues(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	job := f.seedSyncJob(event.ID)

	f.drive.files = []googledrive.DriveFile{
		driveFile("bad", "bad.jpg", "2026-01-01T00:00:00Z"),
		driveFile("good", "good.jpg", "2026-01-02T00:00:00Z"),
	}
	f.drive.failDownload = map[string]error{"bad": errors.New("drive: 403")}
	f.drive.images["good"] = []byte("image-good")
	f.engine.faces = []faceengine.FaceEmbedding{testFace()}

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.PayloadInt("failures"))
	assert.Equal(t, 1, job.PayloadInt("refreshed_files"))
	assert.Nil(t, f.photos.byDriveID("bad"))
	assert.NotNil(t, f.photos.byDriveID("good"))
	require.Len(t, f.jobs.enqueued, 1, "failures force reclustering")
}

func TestSyncHonorsCancelRequest(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	job := f.seedSyncJob(event.ID)
	job.Status = models.JobStatusCancelRequested

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))

	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Equal(t, "Canceled by admin", job.ErrorText)
	assert.Equal(t, "canceled", job.PayloadMap()["phase"])
	assert.Equal(t, models.EventStatusCanceled, f.events.events[event.ID].Status)
	require.NotNil(t, job.CompletedAt)
}

func TestSyncFailsWithoutEventID(t *testing.T) {
	f := newPipelineFixture()
	job := &models.Job{ID: uuid.New(), Type: models.JobTypeSyncEvent, Status: models.JobStatusRunning}
	f.jobs.add(job)

	require.NoError(t, f.p.runSyncEvent(context.Background(), job))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "sync_event job missing event_id", job.ErrorText)
}

// --- clustering ------------------------------------------------------------

func TestClusterJobRecomputesAndCompletes(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusProcessingClusters)
	eventID := event.ID
	job := &models.Job{
		ID: uuid.New(), Type: models.JobTypeClusterEvent,
		EventID: &eventID, Status: models.JobStatusRunning,
	}
	job.SetPayloadMap(map[string]interface{}{"trigger": "after_sync"})
	f.jobs.add(job)
	f.clusterer.count = 4

	require.NoError(t, f.p.runClusterEvent(context.Background(), job))

	assert.Equal(t, 1, f.clusterer.calls)
	assert.Equal(t, eventID, f.clusterer.eventID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "clustering_completed", job.Stage)
	assert.Equal(t, 4, job.PayloadInt("cluster_count"))
	assert.Equal(t, models.EventStatusReady, f.events.events[eventID].Status)
}

// --- matching --------------------------------------------------------------

func TestMatchStoresRankedPhotosAndTopConfidence(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	query := f.seedQuery(event.ID, []byte("selfie"))
	job := f.seedMatchJob(query.ID, event.ID)

	f.engine.single = &faceengine.FaceEmbedding{Embedding: testFace().Embedding}
	f.matcher.result = &services.MatchResult{
		Ranked: []services.RankedPhoto{
			{PhotoID: uuid.New(), ScorePercent: 97.3, ScoreRatio: 0.973, Rank: 1},
			{PhotoID: uuid.New(), ScorePercent: 91.0, ScoreRatio: 0.91, Rank: 2},
		},
		UsedThresholdPercent: 90,
	}

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	assert.Equal(t, query.ID, f.matcher.storedQ)
	assert.Len(t, f.matcher.stored, 2)
	assert.Equal(t, float64(90), f.matcher.opts.ThresholdPercent)
	assert.Equal(t, matchResultLimit, f.matcher.opts.MaxResults)

	done := f.guests.completed[query.ID]
	require.NotNil(t, done.confidence)
	assert.InDelta(t, 0.973, *done.confidence, 1e-9)
	assert.Equal(t, "Found 2 matching photo(s).", done.message)
	assert.Equal(t, models.GuestQueryStatusCompleted, query.Status)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "match_completed", job.Stage)
	payload := job.PayloadMap()
	assert.Nil(t, payload["cluster_id"])
	assert.Contains(t, payload, "cluster_id")
	assert.Equal(t, 2, job.PayloadInt("photos"))
	assert.Equal(t, false, payload["adaptive_threshold_used"])
}

func TestMatchCompletesWhenSelfieHasNoFace(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	query := f.seedQuery(event.ID, []byte("selfie"))
	job := f.seedMatchJob(query.ID, event.ID)
	f.engine.single = nil

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	done := f.guests.completed[query.ID]
	require.NotNil(t, done.confidence)
	assert.Zero(t, *done.confidence)
	assert.Equal(t, "No clear face found in selfie. Please upload a clearer front-facing photo.", done.message)
	assert.Equal(t, "match_completed_no_face", job.Stage)
	assert.Equal(t, "no_face", job.PayloadMap()["result"])
}

func TestMatchReportsPendingSyncInMessages(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusSyncing)
	query := f.seedQuery(event.ID, []byte("selfie"))
	job := f.seedMatchJob(query.ID, event.ID)
	f.engine.single = nil

	// Sync has listed 10 files but only 4 are through.
	syncJob := f.seedSyncJob(event.ID)
	syncJob.SetPayloadMap(map[string]interface{}{"total_listed": 10, "completed": 4})
	syncJob.UpdatedAt = time.Now().UTC()
	for i := 0; i < 4; i++ {
		f.photos.add(&models.Photo{ID: uuid.New(), EventID: event.ID, DriveFileID: fmt.Sprintf("f%d", i)})
	}

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	done := f.guests.completed[query.ID]
	assert.Equal(t, "No clear face found in selfie. Please upload a clearer front-facing photo. 6 photo(s) are still syncing.", done.message)
}

func TestMatchNoConfidentMatchKeepsThresholdInPayload(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	query := f.seedQuery(event.ID, []byte("selfie"))
	job := f.seedMatchJob(query.ID, event.ID)

	f.engine.single = &faceengine.FaceEmbedding{Embedding: testFace().Embedding}
	f.matcher.result = &services.MatchResult{UsedThresholdPercent: 82, Relaxed: true}

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	done := f.guests.completed[query.ID]
	assert.Equal(t, "No confident match found. Try a clearer selfie.", done.message)
	assert.Equal(t, "match_completed_no_confident_cluster", job.Stage)
	assert.Equal(t, 82, job.PayloadInt("threshold_percent"))
	assert.Empty(t, f.matcher.stored)
}

func TestMatchFailsWhenSelfieFileMissing(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	query := f.seedQuery(event.ID, nil)
	job := f.seedMatchJob(query.ID, event.ID)

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Selfie file missing", job.ErrorText)
	assert.Equal(t, "Selfie file missing", f.guests.failedMsg)
	assert.Equal(t, models.GuestQueryStatusFailed, query.Status)
}

func TestMatchCancelRequestFailsQueryAndCancelsJob(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	query := f.seedQuery(event.ID, []byte("selfie"))
	job := f.seedMatchJob(query.ID, event.ID)
	job.Status = models.JobStatusCancelRequested

	require.NoError(t, f.p.runMatchGuest(context.Background(), job))

	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Equal(t, models.GuestQueryStatusFailed, query.Status)
	assert.Equal(t, "Matching was canceled by admin.", f.guests.failedMsg)
}

// --- dispatch and cleanup --------------------------------------------------

func TestDispatchFailsUnknownJobType(t *testing.T) {
	f := newPipelineFixture()
	job := &models.Job{ID: uuid.New(), Type: models.JobType("repaint"), Status: models.JobStatusRunning}
	f.jobs.add(job)

	require.NoError(t, f.p.dispatch(context.Background(), job))
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Unsupported job type: repaint", job.ErrorText)
}

func TestCleanupPurgesExpiredSelfies(t *testing.T) {
	f := newPipelineFixture()
	q1 := uuid.New()
	q2 := uuid.New()
	f.guests.expired = []models.GuestQuery{
		{ID: q1, SelfiePath: "selfies/e/q1.jpg"},
		{ID: q2, SelfiePath: "selfies/e/q2.jpg"},
	}
	f.store.files["selfies/e/q1.jpg"] = []byte("x")
	f.store.files["selfies/e/q2.jpg"] = []byte("y")

	f.p.runCleanup(context.Background())

	assert.Contains(t, f.store.deleted, "selfies/e/q1.jpg")
	assert.Contains(t, f.store.deleted, "selfies/e/q2.jpg")
	assert.ElementsMatch(t, []uuid.UUID{q1, q2}, f.guests.cleared)
}

func TestAutoSyncQueuesOnlyStaleIdleEvents(t *testing.T) {
	f := newPipelineFixture()
	now := time.Now().UTC()

	stale := f.seedEvent(models.EventStatusReady)
	staleSync := f.seedSyncJob(stale.ID)
	staleSync.Status = models.JobStatusCompleted
	staleSync.UpdatedAt = now.Add(-2 * time.Hour)

	busy := f.seedEvent(models.EventStatusReady)
	busySync := f.seedSyncJob(busy.ID)
	busySync.Status = models.JobStatusRunning
	busySync.UpdatedAt = now.Add(-2 * time.Hour)

	fresh := f.seedEvent(models.EventStatusReady)
	freshSync := f.seedSyncJob(fresh.ID)
	freshSync.Status = models.JobStatusCompleted
	freshSync.UpdatedAt = now.Add(-time.Minute)

	queued := f.p.enqueueAutoSyncJobs(context.Background(), now)

	assert.Equal(t, 1, queued)
	require.Len(t, f.jobs.enqueued, 1)
	job := f.jobs.enqueued[0]
	assert.Equal(t, models.JobTypeSyncEvent, job.Type)
	assert.Equal(t, stale.ID, *job.EventID)
	assert.Equal(t, "queued_for_sync", job.Stage)
	assert.Equal(t, "auto_refresh", job.PayloadMap()["trigger"])
	assert.Equal(t, models.EventStatusSyncing, f.events.events[stale.ID].Status)
	assert.Equal(t, models.EventStatusReady, f.events.events[fresh.ID].Status)
}

func TestAutoSyncDisabledOrUnconfiguredQueuesNothing(t *testing.T) {
	f := newPipelineFixture()
	event := f.seedEvent(models.EventStatusReady)
	_ = event

	f.cfg.AutoSync.Enabled = false
	assert.Zero(t, f.p.enqueueAutoSyncJobs(context.Background(), time.Now().UTC()))

	f.cfg.AutoSync.Enabled = true
	f.drive.configured = false
	assert.Zero(t, f.p.enqueueAutoSyncJobs(context.Background(), time.Now().UTC()))
}

func TestAutoSyncRespectsBatchSize(t *testing.T) {
	f := newPipelineFixture()
	f.cfg.AutoSync.BatchSize = 2
	for i := 0; i < 5; i++ {
		f.seedEvent(models.EventStatusReady)
	}

	queued := f.p.enqueueAutoSyncJobs(context.Background(), time.Now().UTC())
	assert.Equal(t, 2, queued)
	assert.Len(t, f.jobs.enqueued, 2)
}

// Interface conformance for the fakes.
var (
	_ repositories.JobRepository         = (*memJobRepo)(nil)
	_ repositories.EventRepository       = (*memEventRepo)(nil)
	_ repositories.PhotoRepository       = (*memPhotoRepo)(nil)
	_ repositories.FaceClusterRepository = (*memClusterRepo)(nil)
	_ repositories.GuestQueryRepository  = (*memGuestRepo)(nil)
	_ DriveSource                        = (*fakeDrive)(nil)
	_ FaceEmbedder                       = (*fakeEmbedder)(nil)
	_ MediaStore                         = (*memStore)(nil)
	_ ProgressPublisher                  = (*capturePublisher)(nil)
)
