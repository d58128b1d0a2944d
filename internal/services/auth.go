package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"school-auth/internal/config"
	"school-auth/internal/logging"
	"school-auth/internal/metrics"
	"school-auth/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuthService struct {
	db          *gorm.DB
	cfg         *config.Config
	credentials CredentialStore
	sessions    *SessionManager
	log         *logging.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(db *gorm.DB, cfg *config.Config, credentials CredentialStore, sessions *SessionManager, log *logging.Logger) *AuthService {
	return &AuthService{
		db:          db,
		cfg:         cfg,
		credentials: credentials,
		sessions:    sessions,
		log:         log.With("component", "auth"),
	}
}

type CreateUserInput struct {
	Username        string
	Email           string
	AdmissionNumber *string
	Password        string
	Role            models.RoleName
}

// LoginResult is returned to the client after a successful login.
type LoginResult struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	Principal    Principal           `json:"principal"`
	Session      *models.UserSession `json:"session"`
}

// Login verifies credentials and opens a new session. Unknown identifiers,
// wrong passwords and deactivated users all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, identifier, password string, client ClientInfo) (*LoginResult, error) {
	user, err := s.credentials.FindUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Spend the same bcrypt work as a wrong password.
			s.credentials.ComparePassword(password, s.missingUserHash())
			metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	if !s.credentials.ComparePassword(password, user.PasswordHash) || !user.IsActive {
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	principal := Principal{
		ID:       user.ID,
		Role:     user.Role.Name,
		Username: user.Username,
		Email:    user.Email,
	}

	tokens, err := s.sessions.CreateSession(ctx, principal, client)
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.log.Info("user logged in", "user_id", user.ID, "role", principal.Role, "session_id", tokens.Session.ID)

	return &LoginResult{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Principal:    principal,
		Session:      tokens.Session,
	}, nil
}

// missingUserHash is a bcrypt hash at the configured cost that no
// password is expected to match.
func (s *AuthService) missingUserHash() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword("school-auth:no-such-user", s.cfg.Security.BcryptCost)
		if err != nil {
			s.log.Error("failed to prepare login hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// CreateUser registers a user. Each login identifier must be unique.
func (s *AuthService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidArgument)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", ErrInvalidArgument, email)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, in.Role)
	}

	var admission *string
	if in.AdmissionNumber != nil {
		if trimmed := strings.TrimSpace(*in.AdmissionNumber); trimmed != "" {
			admission = &trimmed
		}
	}

	db := s.db.WithContext(ctx)

	var role models.Role
	if err := db.Where("name = ?", in.Role).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: role %q", ErrNotFound, in.Role)
		}
		return nil, err
	}

	// Check if any identifier is taken
	identifiers := []string{username, email}
	if admission != nil {
		identifiers = append(identifiers, *admission)
	}
	for _, identifier := range identifiers {
		taken, err := identifierInUse(db, identifier, "")
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %q is already used as a login identifier", ErrConflict, identifier)
		}
	}

	hashedPassword, err := HashPassword(in.Password, s.cfg.Security.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:        username,
		Email:           email,
		AdmissionNumber: admission,
		PasswordHash:    hashedPassword,
		RoleID:          role.ID,
		IsActive:        true,
	}
	if err := db.Omit(clause.Associations).Create(user).Error; err != nil {
		return nil, err
	}
	user.Role = role

	return user, nil
}

// SeedRoles creates any missing role rows.
func (s *AuthService) SeedRoles(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, name := range models.AllRoles {
		role := models.Role{Name: name, Description: name.Description()}
		if err := db.Where(models.Role{Name: name}).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
	}
	return nil
}

// CreateDefaultUser creates the configured user if no user exists yet
func (s *AuthService) CreateDefaultUser(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	def := s.cfg.DefaultUser
	if def.Username == "" || def.Password == "" {
		return nil
	}
	role, err := models.ParseRole(def.Role)
	if err != nil {
		role = models.RoleAdmin
	}

	_, err = s.CreateUser(ctx, CreateUserInput{
		Username: def.Username,
		Email:    def.Email,
		Password: def.Password,
		Role:     role,
	})
	if err != nil {
		return err
	}

	s.log.Info("created default user", "username", def.Username, "role", role)
	return nil
}
