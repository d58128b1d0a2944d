package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"school-auth/internal/config"
	"school-auth/internal/logging"
	"school-auth/internal/metrics"
	"school-auth/internal/models"

	"gorm.io/gorm"
)

const resetTokenBytes = 32

type PasswordResetService struct {
	db       *gorm.DB
	cfg      *config.Config
	notifier Notifier
	sessions *SessionManager
	log      *logging.Logger
	now      func() time.Time
}

func NewPasswordResetService(db *gorm.DB, cfg *config.Config, notifier Notifier, sessions *SessionManager, log *logging.Logger) *PasswordResetService {
	return &PasswordResetService{
		db:       db,
		cfg:      cfg,
		notifier: notifier,
		sessions: sessions,
		log:      log.With("component", "password_reset"),
		now:      time.Now,
	}
}

func (s *PasswordResetService) WithClock(now func() time.Time) *PasswordResetService {
	s.now = now
	return s
}

// GenerateResetToken issues a reset token for the account registered
// under email and hands it to the notifier. Earlier tokens of the same
// user are discarded. An unknown email is ErrNotFound.
func (s *PasswordResetService) GenerateResetToken(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}

	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.Where("email = ? AND is_active = ?", email, true).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.PasswordResets.WithLabelValues("unknown_email").Inc()
			return "", fmt.Errorf("%w: no account for email", ErrNotFound)
		}
		return "", err
	}

	token, err := newResetToken()
	if err != nil {
		return "", err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.PasswordResetToken{
			UserID:    user.ID,
			TokenHash: HashToken(token),
			ExpiresAt: s.now().Add(s.cfg.Security.ResetTokenTTL.Std()),
			CreatedAt: s.now(),
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}

	if err := s.notifier.SendPasswordResetLink(ctx, user.Email, token); err != nil {
		s.log.Error("failed to send password reset link", "user_id", user.ID, "error", err)
	}

	metrics.PasswordResets.WithLabelValues("requested").Inc()
	s.sessions.LogSessionAction(ctx, user.ID, models.ActionPasswordResetRequested, nil, ClientInfo{})
	return token, nil
}

// ResetPassword consumes token and sets newPassword. The password update
// and the token deletion commit together or not at all. Every session of
// the user is ended afterwards.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidOrExpiredToken
	}
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidArgument)
	}

	hashedPassword, err := HashPassword(newPassword, s.cfg.Security.BcryptCost)
	if err != nil {
		return err
	}

	var userID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reset models.PasswordResetToken
		if err := tx.Where("token_hash = ?", HashToken(token)).First(&reset).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}
		if !s.now().Before(reset.ExpiresAt) {
			return ErrInvalidOrExpiredToken
		}

		result := tx.Model(&models.User{}).Where("id = ?", reset.UserID).Update("password_hash", hashedPassword)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidOrExpiredToken
		}

		// A concurrent reset with the same token deletes nothing here and rolls back.
		result = tx.Where("id = ? AND token_hash = ?", reset.ID, reset.TokenHash).Delete(&models.PasswordResetToken{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrInvalidOrExpiredToken
		}

		userID = reset.UserID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			metrics.PasswordResets.WithLabelValues("rejected").Inc()
		}
		return err
	}

	if _, err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		s.log.Error("failed to end sessions after password reset", "user_id", userID, "error", err)
	}

	metrics.PasswordResets.WithLabelValues("completed").Inc()
	s.sessions.LogSessionAction(ctx, userID, models.ActionPasswordReset, nil, ClientInfo{})
	return nil
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
