package repositories

import (
	"context"

	"github.com/google/uuid"
	"grabpic/domain/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, id uuid.UUID, user *models.User) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, offset, limit int) ([]models.User, int64, error)
	CountByRole(ctx context.Context, role string) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
