package services

import (
	"context"

	"grabpic/domain/models"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=120"`
	Role     string `json:"role" validate:"omitempty,oneof=photographer super_admin"`
}

type AuthService interface {
	// Login verifies the password and returns a signed staff JWT.
	Login(ctx context.Context, req LoginRequest) (token string, user *models.User, err error)

	// CreateUser registers a staff account (photographer by default).
	CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error)

	// GetCurrentUser resolves the user behind a JWT.
	GetCurrentUser(ctx context.Context, token string) (*models.User, error)

	// EnsureSuperAdmin seeds the super admin account from env at startup.
	// A no-op when the email is empty or the account already exists.
	EnsureSuperAdmin(ctx context.Context, email, password string) error
}
