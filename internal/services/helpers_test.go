package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"school-auth/internal/config"
	"school-auth/internal/logging"
	"school-auth/internal/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a fresh SQLite database with seeded roles.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("auth_test_%d.db", time.Now().UnixNano()))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.JWT.Secret = "test-secret-key-for-testing-only"
	cfg.JWT.Issuer = "school-auth-test"
	cfg.Security.BcryptCost = bcrypt.MinCost
	return &cfg
}

// testEnv bundles the services wired the way main wires them.
type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	clock    *testClock
	tokens   *TokenService
	rbac     *RBACService
	sessions *SessionManager
	auth     *AuthService
	users    *UserService
	notifier *recordingNotifier
	resets   *PasswordResetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	cfg := testConfig()
	clock := newTestClock()
	log := logging.Discard()

	tokens := NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer).WithClock(clock.Now)
	rbac := NewRBACService(db)
	sessions := NewSessionManager(db, tokens, cfg, log).WithClock(clock.Now)
	credentials := NewCredentialStore(db)
	auth := NewAuthService(db, cfg, credentials, sessions, log)
	notifier := &recordingNotifier{}
	resets := NewPasswordResetService(db, cfg, notifier, sessions, log).WithClock(clock.Now)

	require.NoError(t, auth.SeedRoles(context.Background()))

	return &testEnv{
		db:       db,
		cfg:      cfg,
		clock:    clock,
		tokens:   tokens,
		rbac:     rbac,
		sessions: sessions,
		auth:     auth,
		users:    NewUserService(db, cfg, credentials, sessions),
		notifier: notifier,
		resets:   resets,
	}
}

// createTestUser registers a user and returns it
func createTestUser(t *testing.T, env *testEnv, username, password string, role models.RoleName) *models.User {
	t.Helper()
	user, err := env.auth.CreateUser(context.Background(), CreateUserInput{
		Username: username,
		Email:    username + "@school.test",
		Password: password,
		Role:     role,
	})
	require.NoError(t, err)
	return user
}

type sentReset struct {
	Email string
	Token string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (n *recordingNotifier) SendPasswordResetLink(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{Email: email, Token: token})
	return n.err
}

func (n *recordingNotifier) last(t *testing.T) sentReset {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}
