package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"school-auth/internal/config"
	"school-auth/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserService struct {
	db          *gorm.DB
	cfg         *config.Config
	credentials CredentialStore
	sessions    *SessionManager
}

func NewUserService(db *gorm.DB, cfg *config.Config, credentials CredentialStore, sessions *SessionManager) *UserService {
	return &UserService{
		db:          db,
		cfg:         cfg,
		credentials: credentials,
		sessions:    sessions,
	}
}

type UpdateUserInput struct {
	Username string
	Email    string
	Role     string
}

// GetUsers returns all users, optionally only those holding role
func (s *UserService) GetUsers(ctx context.Context, role models.RoleName) ([]models.User, error) {
	query := s.db.WithContext(ctx).Preload("Role").Order("username")
	if role != "" {
		query = query.Joins("JOIN roles ON roles.id = users.role_id").Where("roles.name = ?", role)
	}

	users := []models.User{}
	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns a specific user by ID
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Role").First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser changes identifiers or reassigns the role. Tokens already
// issued keep the old role until they expire; the next refresh picks up
// the new one.
func (s *UserService) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*models.User, error) {
	db := s.db.WithContext(ctx)

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if username := strings.TrimSpace(in.Username); username != "" && username != user.Username {
		if err := s.checkTaken(db, "username", username, id); err != nil {
			return nil, err
		}
		user.Username = username
	}

	if email := strings.ToLower(strings.TrimSpace(in.Email)); email != "" && email != user.Email {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidArgument, email)
		}
		if err := s.checkTaken(db, "email", email, id); err != nil {
			return nil, err
		}
		user.Email = email
	}

	if strings.TrimSpace(in.Role) != "" {
		name, err := models.ParseRole(in.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if name != user.Role.Name {
			if user.Role.Name.IsAdmin() {
				if err := s.ensureAnotherAdmin(db, id); err != nil {
					return nil, err
				}
			}
			var role models.Role
			if err := db.Where("name = ?", name).First(&role).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
				}
				return nil, err
			}
			user.RoleID = role.ID
			user.Role = role
		}
	}

	if err := db.Omit(clause.Associations).Save(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// checkTaken rejects value if another user logs in with it under any
// identifier column.
func (s *UserService) checkTaken(db *gorm.DB, field, value, id string) error {
	taken, err := identifierInUse(db, value, id)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s already in use", ErrConflict, field)
	}
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *UserService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string, client ClientInfo) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidArgument)
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !s.credentials.ComparePassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hashedPassword, err := HashPassword(newPassword, s.cfg.Security.BcryptCost)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("password_hash", hashedPassword).Error; err != nil {
		return err
	}

	s.sessions.LogSessionAction(ctx, id, models.ActionPasswordChanged, nil, client)
	return nil
}

// DeactivateUser soft-deletes a user and ends their sessions. The last
// active admin cannot be deactivated.
func (s *UserService) DeactivateUser(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	if user.Role.Name.IsAdmin() {
		if err := s.ensureAnotherAdmin(db, id); err != nil {
			return err
		}
	}

	if err := db.Model(&models.User{}).Where("id = ?", id).Update("is_active", false).Error; err != nil {
		return err
	}
	_, err = s.sessions.InvalidateAllForUser(ctx, id)
	return err
}

func (s *UserService) ensureAnotherAdmin(db *gorm.DB, exceptID string) error {
	var admins int64
	err := db.Model(&models.User{}).
		Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.name = ? AND users.is_active = ? AND users.id <> ?", models.RoleAdmin, true, exceptID).
		Count(&admins).Error
	if err != nil {
		return err
	}
	if admins == 0 {
		return fmt.Errorf("%w: cannot remove the last active admin", ErrConflict)
	}
	return nil
}

// GetSessions returns a user's sessions
func (s *UserService) GetSessions(ctx context.Context, userID string, activeOnly bool) ([]models.UserSession, error) {
	return s.sessions.ListSessions(ctx, userID, activeOnly)
}
