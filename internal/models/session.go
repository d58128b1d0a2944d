package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserSession holds the latest token pair of one login. Tokens are stored
// as SHA-256 hashes. Rows are never deleted.
type UserSession struct {
	ID                    string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID                string     `json:"user_id" gorm:"type:varchar(36);not null;index"`
	AccessTokenHash       string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	RefreshTokenHash      string     `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt             time.Time  `json:"expires_at" gorm:"not null;index"`
	RefreshTokenExpiresAt time.Time  `json:"refresh_token_expires_at" gorm:"not null"`
	IsActive              bool       `json:"is_active" gorm:"not null;default:true;index"`
	LastAccessed          *time.Time `json:"last_accessed,omitempty"`
	IPAddress             string     `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent             string     `json:"user_agent" gorm:"type:varchar(500)"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	User                  User       `json:"-" gorm:"foreignKey:UserID"`
}

func (s *UserSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Session log actions.
const (
	ActionLogin                  = "login"
	ActionLogout                 = "logout"
	ActionRefresh                = "refresh"
	ActionInvalidate             = "invalidate"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordReset          = "password_reset"
	ActionPasswordChanged        = "password_changed"
)

// SessionLog is append-only.
type SessionLog struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	Action    string    `json:"action" gorm:"type:varchar(50);not null"`
	SessionID *string   `json:"session_id,omitempty" gorm:"type:varchar(36);index"`
	IPAddress string    `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent string    `json:"user_agent" gorm:"type:varchar(500)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (l *SessionLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

const TimeoutReasonExpired = "expired"

type SessionTimeout struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:varchar(36);not null;index"`
	ExpiredAt time.Time `json:"expired_at" gorm:"not null"`
	Reason    string    `json:"reason" gorm:"type:varchar(50);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// PasswordResetToken is single-use; the row is deleted when consumed.
type PasswordResetToken struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	TokenHash string    `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}
