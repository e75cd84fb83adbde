package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"grabpic/domain/dto"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

// Selfie uploads above this size are rejected before the body is read
// into memory.
const maxSelfieBytes = 10 * 1024 * 1024

type GuestHandler struct {
	guestService services.GuestService
}

func NewGuestHandler(guestService services.GuestService) *GuestHandler {
	return &GuestHandler{
		guestService: guestService,
	}
}

// SubmitSelfie accepts a guest selfie and queues matching
// @Summary Submit a selfie for matching
// @Description Verifies the guest code, stores the selfie and queues a match job. Poll the query endpoint or the progress websocket for the result.
// @Tags Guest
// @Accept multipart/form-data
// @Produce json
// @Param slug path string true "Event slug"
// @Param guest_code formData string true "Guest code"
// @Param guest_name formData string false "Guest name"
// @Param selfie formData file true "Selfie image"
// @Success 202 {object} utils.Response
// @Failure 403 {object} utils.Response
// @Failure 409 {object} utils.Response
// @Router /api/v1/guest/{slug}/match [post]
func (h *GuestHandler) SubmitSelfie(c *fiber.Ctx) error {
	slug := c.Params("slug")

	file, err := c.FormFile("selfie")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Selfie file is required", err)
	}
	if file.Size > maxSelfieBytes {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File size exceeds 10MB limit", nil)
	}

	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Selfie must be an image", nil)
	}

	f, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
	}

	query, err := h.guestService.SubmitSelfie(c.UserContext(), services.GuestMatchRequest{
		Slug:      slug,
		GuestCode: c.FormValue("guest_code"),
		GuestName: c.FormValue("guest_name"),
		FileName:  file.Filename,
		Data:      data,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEventNotFound):
			return utils.NotFoundResponse(c, "Event not found")
		case errors.Is(err, services.ErrInvalidGuestCode):
			return utils.ForbiddenResponse(c, "Invalid guest code")
		case errors.Is(err, services.ErrEventNotReady):
			return utils.ErrorResponse(c, fiber.StatusConflict, "Photos are still processing. Please try again soon.", err)
		case errors.Is(err, services.ErrInvalidSelfie):
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Empty selfie upload", err)
		default:
			logger.GuestError("selfie_rejected", "Failed to accept selfie", err, map[string]interface{}{"slug": slug})
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to accept selfie", err)
		}
	}

	return utils.AcceptedResponse(c, "Selfie received. Processing started.", dto.GuestSubmitResponse{
		QueryID: query.ID,
		Status:  string(query.Status),
		Message: query.Message,
	})
}

// GetMatch returns the match status and ranked photos once completed
// @Summary Get match status
// @Tags Guest
// @Produce json
// @Param slug path string true "Event slug"
// @Param query_id path string true "Query ID"
// @Param guest_code query string true "Guest code"
// @Success 200 {object} utils.Response
// @Failure 404 {object} utils.Response
// @Router /api/v1/guest/{slug}/queries/{query_id} [get]
func (h *GuestHandler) GetMatch(c *fiber.Ctx) error {
	slug := c.Params("slug")

	queryID, err := uuid.Parse(c.Params("query_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query id", err)
	}

	status, err := h.guestService.GetMatch(c.UserContext(), slug, c.Query("guest_code"), queryID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEventNotFound):
			return utils.NotFoundResponse(c, "Event not found")
		case errors.Is(err, services.ErrInvalidGuestCode):
			return utils.ForbiddenResponse(c, "Invalid guest code")
		case errors.Is(err, services.ErrQueryNotFound):
			return utils.NotFoundResponse(c, "Query not found")
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get match status", err)
		}
	}

	return utils.SuccessResponse(c, "Match status retrieved", status)
}
