package handlers

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"grabpic/domain/dto"
	"grabpic/domain/models"
	"grabpic/domain/services"
	"grabpic/pkg/config"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

type JobHandler struct {
	jobService   services.JobService
	eventService services.EventService
	dashboardKey string
}

func NewJobHandler(jobService services.JobService, eventService services.EventService, cfg *config.Config) *JobHandler {
	return &JobHandler{
		jobService:   jobService,
		eventService: eventService,
		dashboardKey: cfg.Admin.DashboardKey,
	}
}

// isSystemAdmin checks the bearer token against the dashboard key. The
// compare is constant time; an unconfigured key never matches.
func (h *JobHandler) isSystemAdmin(c *fiber.Ctx) bool {
	if h.dashboardKey == "" {
		return false
	}
	token := utils.ExtractTokenFromHeader(c.Get("Authorization"))
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.dashboardKey)) == 1
}

// ensureJobAccess authorizes job access: the dashboard key, a super
// admin, the owning staff user, or the event admin token for
// event-scoped jobs. When it returns false the response has already
// been written.
func (h *JobHandler) ensureJobAccess(c *fiber.Ctx, job *models.Job) (bool, error) {
	if h.isSystemAdmin(c) {
		return true, nil
	}

	if user, err := utils.GetUserFromContext(c); err == nil {
		if user.Role == models.RoleSuperAdmin {
			return true, nil
		}
		if job.EventID != nil {
			detail, derr := h.eventService.Get(c.UserContext(), *job.EventID)
			if derr == nil && detail.Event.OwnerUserID == user.ID {
				return true, nil
			}
		}
		return false, utils.ForbiddenResponse(c, "Not your job")
	}

	if job.EventID == nil {
		return false, utils.UnauthorizedResponse(c, "Admin token required")
	}

	token := utils.ExtractTokenFromHeader(c.Get("Authorization"))
	if token == "" {
		return false, utils.UnauthorizedResponse(c, "Admin token required")
	}
	if _, err := h.eventService.VerifyAdminToken(c.UserContext(), *job.EventID, token); err != nil {
		return false, utils.ForbiddenResponse(c, "Invalid admin token")
	}
	return true, nil
}

// Get returns a job with its progress counters
// @Summary Get a job
// @Tags Jobs
// @Security BearerAuth
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} utils.Response
// @Failure 404 {object} utils.Response
// @Router /api/v1/jobs/{job_id} [get]
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("job_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", err)
	}

	job, err := h.jobService.Get(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return utils.NotFoundResponse(c, "Job not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get job", err)
	}

	if ok, resp := h.ensureJobAccess(c, job); !ok {
		return resp
	}

	return utils.SuccessResponse(c, "Job retrieved successfully", dto.JobToResponse(job))
}

// Cancel runs the cancel handshake on a job
// @Summary Cancel a job
// @Description Queued jobs cancel immediately; running jobs move to cancel_requested and stop at the next checkpoint
// @Tags Jobs
// @Security BearerAuth
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} utils.Response
// @Failure 404 {object} utils.Response
// @Router /api/v1/jobs/{job_id}/cancel [post]
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("job_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job id", err)
	}

	job, err := h.jobService.Get(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return utils.NotFoundResponse(c, "Job not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get job", err)
	}

	if ok, resp := h.ensureJobAccess(c, job); !ok {
		return resp
	}

	job, err = h.jobService.Cancel(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return utils.NotFoundResponse(c, "Job not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel job", err)
	}

	logger.Info(logger.CategoryAPI, "job_cancel_requested", "Job cancel requested", map[string]interface{}{
		"job_id": job.ID.String(),
		"status": string(job.Status),
	})

	return utils.SuccessResponse(c, "Cancellation requested", dto.JobToResponse(job))
}
