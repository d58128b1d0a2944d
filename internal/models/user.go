package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is never hard deleted; IsActive=false is the deactivated state.
type User struct {
	ID              string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Username        string    `json:"username" gorm:"type:varchar(255);uniqueIndex;not null"`
	Email           string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	AdmissionNumber *string   `json:"admission_number,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	PasswordHash    string    `json:"-" gorm:"type:varchar(255);not null"`
	RoleID          uint      `json:"role_id" gorm:"not null;index"`
	Role            Role      `json:"role" gorm:"foreignKey:RoleID"`
	IsActive        bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

type Role struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        RoleName  `json:"name" gorm:"type:varchar(50);uniqueIndex;not null"`
	Description string    `json:"description" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PermissionGroup struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `json:"description" gorm:"type:varchar(255)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission belongs to roles only, never directly to a user.
type Permission struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	Name        string           `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"` // e.g. grade:edit
	Description string           `json:"description" gorm:"type:varchar(255)"`
	GroupID     *uint            `json:"group_id,omitempty" gorm:"index"`
	Group       *PermissionGroup `json:"group,omitempty" gorm:"foreignKey:GroupID"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RolePermission is the role/permission junction. The composite primary
// key keeps each pair unique.
type RolePermission struct {
	RoleID       uint      `json:"role_id" gorm:"primaryKey"`
	PermissionID uint      `json:"permission_id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
}
