package handlers

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"grabpic/domain/models"
	"grabpic/domain/repositories"
	"grabpic/domain/services"
	"grabpic/pkg/utils"
)

type FaceHandler struct {
	faceService  services.FaceService
	eventService services.EventService
}

func NewFaceHandler(faceService services.FaceService, eventService services.EventService) *FaceHandler {
	return &FaceHandler{
		faceService:  faceService,
		eventService: eventService,
	}
}

// FaceSearchResultResponse is one row of the similarity diagnostics
type FaceSearchResultResponse struct {
	FaceID       string  `json:"face_id"`
	PhotoID      string  `json:"photo_id"`
	DriveFileID  string  `json:"drive_file_id"`
	FileName     string  `json:"file_name"`
	ThumbnailURL string  `json:"thumbnail_url"`
	WebViewURL   string  `json:"web_view_url"`
	FaceIndex    int     `json:"face_index"`
	ClusterLabel *int    `json:"cluster_label,omitempty"`
	BboxX        float64 `json:"bbox_x"`
	BboxY        float64 `json:"bbox_y"`
	BboxWidth    float64 `json:"bbox_width"`
	BboxHeight   float64 `json:"bbox_height"`
	Similarity   float64 `json:"similarity"`
}

// SearchSimilar finds the event faces closest to a face in the uploaded
// image. Staff diagnostics for tuning thresholds and inspecting clusters.
// @Summary Search similar faces in an event
// @Tags Faces
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param event_id path string true "Event ID"
// @Param image formData file true "Face image"
// @Param limit query int false "Max results" default(20)
// @Param threshold query number false "Minimum cosine similarity" default(0)
// @Success 200 {object} utils.Response
// @Failure 422 {object} utils.Response
// @Router /api/v1/events/{event_id}/faces/similar [get]
func (h *FaceHandler) SearchSimilar(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("event_id"))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid event id", err)
	}

	user, err := utils.GetUserFromContext(c)
	if err != nil {
		return utils.UnauthorizedResponse(c, "Not authenticated")
	}
	if user.Role != models.RoleSuperAdmin {
		detail, derr := h.eventService.Get(c.UserContext(), eventID)
		if derr != nil {
			return utils.NotFoundResponse(c, "Event not found")
		}
		if detail.Event.OwnerUserID != user.ID {
			return utils.ForbiddenResponse(c, "Not your event")
		}
	}

	file, err := c.FormFile("image")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Image file is required", err)
	}
	if file.Size > maxSelfieBytes {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File size exceeds 10MB limit", nil)
	}
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File must be an image", nil)
	}

	f, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
	}
	defer f.Close()

	imageData, err := io.ReadAll(f)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read file", err)
	}

	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	threshold := c.QueryFloat("threshold", 0)
	if threshold < 0 || threshold > 1 {
		threshold = 0
	}

	results, err := h.faceService.SearchSimilarByImage(c.UserContext(), eventID, imageData, limit, threshold)
	if err != nil {
		if errors.Is(err, services.ErrNoFaceInSelfie) {
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "No face found in image", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Face search failed", err)
	}

	return utils.SuccessResponse(c, "Similar faces retrieved", fiber.Map{
		"results": toFaceSearchResponses(results),
		"count":   len(results),
	})
}

func toFaceSearchResponses(results []repositories.FaceSearchResult) []FaceSearchResultResponse {
	responses := make([]FaceSearchResultResponse, len(results))
	for i, r := range results {
		thumbnailURL := ""
		if r.Photo.ThumbnailPath != "" {
			thumbnailURL = "/storage/" + r.Photo.ThumbnailPath
		}
		responses[i] = FaceSearchResultResponse{
			FaceID:       r.Face.ID.String(),
			PhotoID:      r.Photo.ID.String(),
			DriveFileID:  r.Photo.DriveFileID,
			FileName:     r.Photo.FileName,
			ThumbnailURL: thumbnailURL,
			WebViewURL:   r.Photo.WebViewURL,
			FaceIndex:    r.Face.FaceIndex,
			ClusterLabel: r.Face.ClusterLabel,
			BboxX:        r.Face.BboxX,
			BboxY:        r.Face.BboxY,
			BboxWidth:    r.Face.BboxWidth,
			BboxHeight:   r.Face.BboxHeight,
			Similarity:   r.Similarity,
		}
	}
	return responses
}
