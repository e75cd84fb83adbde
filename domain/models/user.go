package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleSuperAdmin   = "super_admin"
	RolePhotographer = "photographer"
)

type User struct {
	ID        uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Email     string    `gorm:"uniqueIndex;not null"`
	Password  string    `gorm:"not null"` // bcrypt hash
	Name      string
	Role      string `gorm:"default:'photographer'"` // photographer, super_admin
	IsActive  bool   `gorm:"default:true"`
	LastLogin *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Events []Event `gorm:"foreignKey:OwnerUserID"`
}

func (User) TableName() string {
	return "users"
}
