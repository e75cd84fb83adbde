package handlers

import (
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"grabpic/domain/services"
	"grabpic/infrastructure/faceapi"
	redisinfra "grabpic/infrastructure/redis"
	"grabpic/pkg/config"
)

// validate is shared by every handler; request structs carry their rules
// in `validate` tags.
var validate = validator.New()

// Services contains all the services needed for handlers
type Services struct {
	AuthService  services.AuthService
	EventService services.EventService
	JobService   services.JobService
	GuestService services.GuestService
	FaceService  services.FaceService
}

// Infra contains infrastructure handles needed by the health endpoint
type Infra struct {
	DB         *gorm.DB
	Redis      *redisinfra.Client
	FaceClient *faceapi.Client
}

// Handlers contains all HTTP handlers
type Handlers struct {
	AuthHandler   *AuthHandler
	EventHandler  *EventHandler
	JobHandler    *JobHandler
	GuestHandler  *GuestHandler
	FaceHandler   *FaceHandler
	LogHandler    *LogHandler
	HealthHandler *HealthHandler

	// Short accessors for routes
	Auth   *AuthHandler
	Event  *EventHandler
	Job    *JobHandler
	Guest  *GuestHandler
	Face   *FaceHandler
	Log    *LogHandler
	Health *HealthHandler
}

// NewHandlers creates a new instance of Handlers with all dependencies
func NewHandlers(services *Services, infra *Infra, cfg *config.Config) *Handlers {
	authHandler := NewAuthHandler(services.AuthService)
	eventHandler := NewEventHandler(services.EventService)
	jobHandler := NewJobHandler(services.JobService, services.EventService, cfg)
	guestHandler := NewGuestHandler(services.GuestService)
	faceHandler := NewFaceHandler(services.FaceService, services.EventService)
	logHandler := NewLogHandler(cfg)
	healthHandler := NewHealthHandler(infra.DB, infra.Redis, infra.FaceClient)

	return &Handlers{
		AuthHandler:   authHandler,
		EventHandler:  eventHandler,
		JobHandler:    jobHandler,
		GuestHandler:  guestHandler,
		FaceHandler:   faceHandler,
		LogHandler:    logHandler,
		HealthHandler: healthHandler,

		// Short accessors
		Auth:   authHandler,
		Event:  eventHandler,
		Job:    jobHandler,
		Guest:  guestHandler,
		Face:   faceHandler,
		Log:    logHandler,
		Health: healthHandler,
	}
}
