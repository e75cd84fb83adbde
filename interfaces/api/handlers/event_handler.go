package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"grabpic/domain/dto"
	"grabpic/domain/models"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

type EventHandler struct {
	eventService services.EventService
}

func NewEventHandler(eventService services.EventService) *EventHandler {
	return &EventHandler{
		eventService: eventService,
	}
}

// ensureEventAdmin authorizes event-scoped admin access: the owner or a
// super admin by staff JWT, otherwise the event admin token carried in
// the same Authorization header. When it returns false the response has
// already been written.
func (h *EventHandler) ensureEventAdmin(c *fiber.Ctx, eventID uuid.UUID) (bool, error) {
	if user, err := utils.GetUserFromContext(c); err == nil {
		if user.Role == models.RoleSuperAdmin {
			return true, nil
		}
		detail, derr := h.eventService.Get(c.UserContext(), eventID)
		if derr != nil {
			return false, utils.NotFoundResponse(c, "Event not found")
		}
		if detail.Event.OwnerUserID != user.ID {
			return false, utils.ForbiddenResponse(c, "Not your event")
		}
		return true, nil
	}

	token := utils.ExtractTokenFromHeader(c.Get("Authorization"))
	if token == "" {
		return false, utils.UnauthorizedResponse(c, "Admin token required")
	}
	if _, err := h.eventService.VerifyAdminToken(c.UserContext(), eventID, token); err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return false, utils.NotFoundResponse(c, "Event not found")
		}
		return false, utils.ForbiddenResponse(c, "Invalid admin token")
	}
	return true, nil
}

// ensureOwner authorizes mutating access: only the owning staff user or a
// super admin; event admin tokens are not enough.
func (h *EventHandler) ensureOwner(c *fiber.Ctx, eventID uuid.UUID) (bool, error) {
	user, err := utils.GetUserFromContext(c)
	if err != nil {
		return false, utils.UnauthorizedResponse(c, "Not authenticated")
	}
	if user.Role == models.RoleSuperAdmin {
		return true, nil
	}
	detail, err := h.eventService.Get(c.UserContext(), eventID)
	if err != nil {
		return false, utils.NotFoundResponse(c, "Event not found")
	}
	if detail.Event.OwnerUserID != user.ID {
		return false, utils.ForbiddenResponse(c, "Not your event")
	}
	return true, nil
}

// Create registers an event and starts the initial Drive sync
// @Summary Create an event
// @Description Validates the Drive folder link, generates guest and admin credentials and queues the first sync
// @Tags Events
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body services.CreateEventRequest true "New event"
// @Success 201 {object} utils.Response
// @Failure 400 {object} utils.Response
// @Router /api/v1/events [post]
func (h *EventHandler) Create(c *fiber.Ctx) error {
	user, err := utils.GetUserFromContext(c)
	if err != nil {
		return utils.UnauthorizedResponse(c, "Not authenticated")
	}

	var req services.CreateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	created, err := h.eventService.Create(c.UserContext(), user.ID, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidDriveLink):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid Google Drive link", err)
		case errors.Is(err, services.ErrMissingDriveKey):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Google Drive credentials are not configured", err)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create event", err)
		}
	}

	logger.Info(logger.CategoryAPI, "event_created", "Event created", map[string]interface{}{
		"event_id": created.Event.ID.String(),
		"slug":     created.Event.Slug,
		"owner":    user.ID.String(),
	})

	return utils.CreatedResponse(c, "Event created. Syncing started.", dto.EventCreatedResponse{
		EventResponse: *dto.EventToResponse(created.Event),
		GuestCode:     created.GuestCode,
		AdminToken:    created.AdminToken,
		JobID:         created.InitialJobID,
	})
}

// List returns events owned by the caller; super admins see all
// @Summary List events
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param offset query int false "Offset" default(0)
// @Param limit query int false "Limit" default(50)
// @Success 200 {object} utils.Response
// @Router /api/v1/events [get]
func (h *EventHandler) List(c *fiber.Ctx) error {
	user, err := utils.GetUserFromContext(c)
	if err != nil {
		return utils.UnauthorizedResponse(c, "Not authenticated")
	}

	ownerID := user.ID
	if user.Role == models.RoleSuperAdmin {
		ownerID = uuid.Nil
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	events, total, err := h.eventService.List(c.UserContext(), ownerID, offset, limit)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list events", err)
	}

	return utils.SuccessResponse(c, "Events retrieved successfully", dto.EventListResponse{
		Events: dto.EventsToResponses(events),
		Total:  total,
	})
}

// Get returns the event with its recent jobs
// @Summary Get an event
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 200 {object} utils.Response
// @Failure 404 {object} utils.Response
// @Router /api/v1/events/{event_id} [get]
func (h *EventHandler) Get(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureEventAdmin(c, eventID); !ok {
		return resp
	}

	detail, err := h.eventService.Get(c.UserContext(), eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return utils.NotFoundResponse(c, "Event not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get event", err)
	}

	return utils.SuccessResponse(c, "Event retrieved successfully", dto.EventDetailResponse{
		EventResponse: *dto.EventToResponse(detail.Event),
		GuestURL:      detail.GuestURL,
		Jobs:          dto.JobsToResponses(detail.Jobs),
	})
}

// Update changes the event name, slug or Drive link
// @Summary Update an event
// @Tags Events
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param event_id path string true "Event ID"
// @Param request body services.UpdateEventRequest true "Fields to update"
// @Success 200 {object} utils.Response
// @Router /api/v1/events/{event_id} [patch]
func (h *EventHandler) Update(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureOwner(c, eventID); !ok {
		return resp
	}

	var req services.UpdateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	detail, err := h.eventService.Update(c.UserContext(), eventID, req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEventNotFound):
			return utils.NotFoundResponse(c, "Event not found")
		case errors.Is(err, services.ErrInvalidDriveLink):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid Google Drive link", err)
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update event", err)
		}
	}

	return utils.SuccessResponse(c, "Event updated successfully", dto.EventDetailResponse{
		EventResponse: *dto.EventToResponse(detail.Event),
		GuestURL:      detail.GuestURL,
		Jobs:          dto.JobsToResponses(detail.Jobs),
	})
}

// Delete removes the event and all its photos, faces, clusters and queries
// @Summary Delete an event
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 200 {object} utils.Response
// @Router /api/v1/events/{event_id} [delete]
func (h *EventHandler) Delete(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureOwner(c, eventID); !ok {
		return resp
	}

	if err := h.eventService.Delete(c.UserContext(), eventID); err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return utils.NotFoundResponse(c, "Event not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete event", err)
	}

	logger.Info(logger.CategoryAPI, "event_deleted", "Event deleted", map[string]interface{}{"event_id": eventID.String()})

	return utils.SuccessResponse(c, "Event deleted successfully", fiber.Map{"deleted": true})
}

// Resync queues a fresh Drive sync for the event
// @Summary Resync an event
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 202 {object} utils.Response
// @Router /api/v1/events/{event_id}/resync [post]
func (h *EventHandler) Resync(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureEventAdmin(c, eventID); !ok {
		return resp
	}

	job, err := h.eventService.Resync(c.UserContext(), eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return utils.NotFoundResponse(c, "Event not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to queue resync", err)
	}

	return utils.AcceptedResponse(c, "Resync queued", fiber.Map{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// Status returns the processing rollup polled by dashboards
// @Summary Get processing status
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 200 {object} utils.Response
// @Router /api/v1/events/{event_id}/status [get]
func (h *EventHandler) Status(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureEventAdmin(c, eventID); !ok {
		return resp
	}

	status, err := h.eventService.Status(c.UserContext(), eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return utils.NotFoundResponse(c, "Event not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get status", err)
	}

	return utils.SuccessResponse(c, "Status retrieved successfully", status)
}

// Cancel requests cancellation of the active sync or clustering job
// @Summary Cancel processing
// @Tags Events
// @Security BearerAuth
// @Produce json
// @Param event_id path string true "Event ID"
// @Success 200 {object} utils.Response
// @Router /api/v1/events/{event_id}/cancel [post]
func (h *EventHandler) Cancel(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	if ok, resp := h.ensureEventAdmin(c, eventID); !ok {
		return resp
	}

	status, err := h.eventService.CancelProcessing(c.UserContext(), eventID)
	if err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			return utils.NotFoundResponse(c, "Event not found")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to cancel processing", err)
	}

	logger.Info(logger.CategoryAPI, "cancel_requested", "Processing cancel requested", map[string]interface{}{"event_id": eventID.String()})

	return utils.SuccessResponse(c, "Cancellation requested", status)
}
