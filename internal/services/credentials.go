package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"school-auth/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CredentialStore is the read side of the identity store.
type CredentialStore interface {
	// FindUserByIdentifier matches username, email or admission number.
	// A missing user is ErrNotFound.
	FindUserByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	ComparePassword(plain, hash string) bool
}

type GormCredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *GormCredentialStore {
	return &GormCredentialStore{db: db}
}

func (s *GormCredentialStore) FindUserByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Role").
		Where("username = ? OR email = ? OR admission_number = ?", identifier, strings.ToLower(identifier), identifier).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// identifierInUse reports whether value would match another user at login.
// It checks value against every identifier column, because
// FindUserByIdentifier matches any of them.
func identifierInUse(db *gorm.DB, value, exceptID string) (bool, error) {
	var count int64
	err := db.Model(&models.User{}).
		Where("(username = ? OR email = ? OR admission_number = ?) AND id <> ?", value, strings.ToLower(value), value, exceptID).
		Count(&count).Error
	return count > 0, err
}

// ComparePassword is bcrypt's constant-time comparison.
func (s *GormCredentialStore) ComparePassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// HashToken returns the hex SHA-256 of a token. Only hashes are stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
