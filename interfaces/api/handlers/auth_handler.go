package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"grabpic/domain/dto"
	"grabpic/domain/services"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Login authenticates a staff account
// @Summary Staff login
// @Description Verifies email and password and returns a signed JWT
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body services.LoginRequest true "Credentials"
// @Success 200 {object} utils.Response
// @Failure 401 {object} utils.Response
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req services.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	token, user, err := h.authService.Login(c.UserContext(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			logger.AuthError("login_rejected", "Invalid credentials", err, map[string]interface{}{"email": req.Email, "ip": c.IP()})
			return utils.UnauthorizedResponse(c, "Invalid email or password")
		case errors.Is(err, services.ErrUserInactive):
			return utils.ForbiddenResponse(c, "Account is disabled")
		default:
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Login failed", err)
		}
	}

	logger.Auth("login_success", "Staff user logged in", map[string]interface{}{"user_id": user.ID.String(), "role": user.Role})

	return utils.SuccessResponse(c, "Login successful", dto.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        dto.UserToResponse(user),
	})
}

// CreateUser registers a staff account. Route is super admin only.
// @Summary Create a staff user
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body services.CreateUserRequest true "New user"
// @Success 201 {object} utils.Response
// @Failure 409 {object} utils.Response
// @Router /api/v1/auth/users [post]
func (h *AuthHandler) CreateUser(c *fiber.Ctx) error {
	var req services.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := validate.Struct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	user, err := h.authService.CreateUser(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "Email already registered", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create user", err)
	}

	logger.Auth("user_created", "Staff user created", map[string]interface{}{"user_id": user.ID.String(), "role": user.Role})

	return utils.CreatedResponse(c, "User created successfully", dto.UserToResponse(user))
}

// Me returns the authenticated staff account
// @Summary Get current user
// @Tags Auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} utils.Response
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	if _, err := utils.GetUserFromContext(c); err != nil {
		return utils.UnauthorizedResponse(c, "Not authenticated")
	}

	token := utils.ExtractTokenFromHeader(c.Get("Authorization"))
	user, err := h.authService.GetCurrentUser(c.UserContext(), token)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get user", err)
	}

	return utils.SuccessResponse(c, "User retrieved successfully", dto.UserToResponse(user))
}
