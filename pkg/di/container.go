package di

import (
	"context"
	"time"

	"gorm.io/gorm"

	"grabpic/application/serviceimpl"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/infrastructure/faceapi"
	"grabpic/infrastructure/faceengine"
	"grabpic/infrastructure/googledrive"
	"grabpic/infrastructure/postgres"
	"grabpic/infrastructure/redis"
	"grabpic/infrastructure/storage"
	"grabpic/infrastructure/worker"
	"grabpic/interfaces/api/handlers"
	"grabpic/pkg/config"
	"grabpic/pkg/logger"
	"grabpic/pkg/scheduler"
)

type Container struct {
	// Configuration
	Config *config.Config

	// Infrastructure
	DB          *gorm.DB
	RedisClient *redis.Client
	Storage     *storage.LocalStorage
	DriveClient *googledrive.DriveClient
	FaceClient  *faceapi.Client
	FaceEngine  *faceengine.Engine
	Scheduler   scheduler.Scheduler

	// Repositories
	UserRepository       repositories.UserRepository
	EventRepository      repositories.EventRepository
	JobRepository        repositories.JobRepository
	PhotoRepository      repositories.PhotoRepository
	FaceRepository       repositories.FaceRepository
	ClusterRepository    repositories.FaceClusterRepository
	GuestQueryRepository repositories.GuestQueryRepository

	// Services
	AuthService    services.AuthService
	EventService   services.EventService
	JobService     services.JobService
	GuestService   services.GuestService
	FaceService    services.FaceService
	ClusterService services.ClusterService
	MatchService   services.MatchService

	// Workers
	Pipeline *worker.Pipeline
}

func NewContainer() *Container {
	return &Container{}
}

// Initialize builds everything the API binary needs: config,
// infrastructure, repositories and services. The worker binary calls
// InitializeWorker on top of this.
func (c *Container) Initialize() error {
	if err := c.initConfig(); err != nil {
		return err
	}

	if err := c.initInfrastructure(); err != nil {
		return err
	}

	if err := c.initRepositories(); err != nil {
		return err
	}

	if err := c.initServices(); err != nil {
		return err
	}

	return nil
}

// InitializeWorker adds the claim-loop pipeline and the maintenance
// scheduler. Only the worker binary runs these; the API process serves
// requests without touching queued jobs.
func (c *Container) InitializeWorker() error {
	if err := c.initPipeline(); err != nil {
		return err
	}

	return c.initScheduler()
}

func (c *Container) initConfig() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = cfg
	logger.Startup("config_loaded", "Configuration loaded", nil)
	return nil
}

func (c *Container) initInfrastructure() error {
	// Initialize Database
	db, err := postgres.NewDatabase(c.Config.Database)
	if err != nil {
		return err
	}
	c.DB = db
	logger.Startup("db_connected", "Database connected", nil)

	// Run migrations
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	logger.Startup("db_migrated", "Database migrated", nil)

	// Initialize Redis. The API degrades without it (no status cache, no
	// live progress), so a missing Redis is a warning rather than a crash.
	redisClient, err := redis.NewClient(c.Config.Redis)
	if err != nil {
		logger.StartupWarn("redis_connection_failed", "Redis connection failed", map[string]interface{}{"error": err.Error()})
	} else {
		c.RedisClient = redisClient
		logger.Startup("redis_connected", "Redis connected", nil)
	}

	// Initialize local storage (selfies/, thumbnails/)
	store, err := storage.NewLocalStorage(c.Config.Storage.Root, c.Config.Storage.ThumbnailMaxSize)
	if err != nil {
		return err
	}
	c.Storage = store
	logger.Startup("storage_initialized", "Local storage initialized", map[string]interface{}{"root": c.Config.Storage.Root})

	// Initialize Google Drive client
	driveClient, err := googledrive.NewDriveClient(context.Background(), c.Config.Drive)
	if err != nil {
		return err
	}
	c.DriveClient = driveClient
	if driveClient.Configured() {
		logger.Startup("google_drive_initialized", "Google Drive client initialized", nil)
	}

	// Initialize face inference client and engine
	if c.Config.Face.APIBaseURL != "" {
		c.FaceClient = faceapi.NewClient(c.Config.Face.APIBaseURL)
	}
	c.FaceEngine = faceengine.NewEngine(c.Config.Face, c.FaceClient)
	logger.Startup("face_engine_initialized", "Face engine initialized", nil)

	return nil
}

func (c *Container) initRepositories() error {
	c.UserRepository = postgres.NewUserRepository(c.DB)
	c.EventRepository = postgres.NewEventRepository(c.DB)
	c.JobRepository = postgres.NewJobRepository(c.DB)
	c.PhotoRepository = postgres.NewPhotoRepository(c.DB)
	c.FaceRepository = postgres.NewFaceRepository(c.DB)
	c.ClusterRepository = postgres.NewFaceClusterRepository(c.DB)
	c.GuestQueryRepository = postgres.NewGuestQueryRepository(c.DB)
	logger.Startup("repositories_initialized", "Repositories initialized", nil)
	return nil
}

func (c *Container) initServices() error {
	c.AuthService = serviceimpl.NewAuthService(c.UserRepository, c.Config.JWT.Secret)

	// Seed the super admin account from env, first boot only
	if err := c.AuthService.EnsureSuperAdmin(context.Background(), c.Config.Admin.Email, c.Config.Admin.Password); err != nil {
		return err
	}

	c.JobService = serviceimpl.NewJobService(c.JobRepository, c.EventRepository, c.GuestQueryRepository)
	c.EventService = serviceimpl.NewEventService(
		c.EventRepository,
		c.JobRepository,
		c.PhotoRepository,
		c.JobService,
		c.RedisClient,
		c.Config.Drive,
		c.Config.App.FrontendURL,
	)
	c.GuestService = serviceimpl.NewGuestService(
		c.EventRepository,
		c.GuestQueryRepository,
		c.PhotoRepository,
		c.JobRepository,
		c.Storage,
		c.Config.Storage.SelfieRetentionHours,
	)
	c.FaceService = serviceimpl.NewFaceService(c.FaceRepository, c.FaceEngine)
	c.ClusterService = serviceimpl.NewClusterService(
		c.FaceRepository,
		c.ClusterRepository,
		c.Config.Cluster.Eps,
		c.Config.Cluster.MinSamples,
	)
	c.MatchService = serviceimpl.NewMatchService(c.FaceRepository, c.GuestQueryRepository)

	logger.Startup("services_initialized", "Services initialized", nil)
	return nil
}

func (c *Container) initPipeline() error {
	// Warm the model cache so the first claimed job does not pay the
	// download. A failure is not fatal; jobs retry and the fallback
	// embedder can still serve.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := c.FaceEngine.EnsureModels(ctx); err != nil {
		logger.StartupWarn("face_models_warmup_failed", "Face model warmup failed", map[string]interface{}{"error": err.Error()})
	}

	// A nil *redis.Client must stay a nil interface, or the pipeline
	// would call through it.
	var progress worker.ProgressPublisher
	if c.RedisClient != nil {
		progress = c.RedisClient
	}

	c.Pipeline = worker.NewPipeline(
		c.JobRepository,
		c.EventRepository,
		c.PhotoRepository,
		c.ClusterRepository,
		c.GuestQueryRepository,
		c.DriveClient,
		c.FaceEngine,
		c.Storage,
		c.ClusterService,
		c.MatchService,
		progress,
		c.Config,
	)
	c.Pipeline.Start()
	logger.Startup("pipeline_started", "Job pipeline started", map[string]interface{}{
		"concurrency": c.Config.Worker.Concurrency,
	})
	return nil
}

func (c *Container) initScheduler() error {
	c.Scheduler = scheduler.NewScheduler()
	c.Scheduler.Start()
	logger.Startup("scheduler_started", "Maintenance scheduler started", nil)

	if err := scheduler.RegisterStaleJobReaper(c.Scheduler, c.JobRepository, c.Config.Worker.MaxAttempts); err != nil {
		logger.StartupWarn("stale_reaper_schedule_failed", "Failed to schedule stale job reaper", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Startup("stale_reaper_scheduled", "Stale job reaper scheduled (every 5 minutes)", nil)
	}

	return nil
}

func (c *Container) Cleanup() error {
	logger.Startup("cleanup_started", "Starting cleanup...", nil)

	// Stop the pipeline first so no job is claimed mid-shutdown
	if c.Pipeline != nil {
		if c.Pipeline.IsRunning() {
			c.Pipeline.Stop()
			logger.Startup("pipeline_stopped", "Job pipeline stopped", nil)
		}
	}

	// Stop scheduler
	if c.Scheduler != nil {
		if c.Scheduler.IsRunning() {
			c.Scheduler.Stop()
			logger.Startup("scheduler_stopped", "Maintenance scheduler stopped", nil)
		}
	}

	// Close Redis connection
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			logger.StartupWarn("redis_close_failed", "Failed to close Redis connection", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Startup("redis_closed", "Redis connection closed", nil)
		}
	}

	// Close database connection
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.StartupWarn("db_close_failed", "Failed to close database connection", map[string]interface{}{"error": err.Error()})
			} else {
				logger.Startup("db_closed", "Database connection closed", nil)
			}
		}
	}

	logger.Startup("cleanup_completed", "Cleanup completed", nil)
	return nil
}

func (c *Container) GetConfig() *config.Config {
	return c.Config
}

func (c *Container) GetHandlerServices() *handlers.Services {
	return &handlers.Services{
		AuthService:  c.AuthService,
		EventService: c.EventService,
		JobService:   c.JobService,
		GuestService: c.GuestService,
		FaceService:  c.FaceService,
	}
}

func (c *Container) GetHandlerInfra() *handlers.Infra {
	return &handlers.Infra{
		DB:         c.DB,
		Redis:      c.RedisClient,
		FaceClient: c.FaceClient,
	}
}
