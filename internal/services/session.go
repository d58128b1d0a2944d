package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-auth/internal/config"
	"school-auth/internal/logging"
	"school-auth/internal/metrics"
	"school-auth/internal/models"

	"gorm.io/gorm"
)

// ClientInfo describes the caller of a session operation for the audit log.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// SessionTokens is a session together with its raw token pair. The raw
// tokens exist only here; the store keeps their hashes.
type SessionTokens struct {
	Session      *models.UserSession `json:"session"`
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
}

// SessionManager owns the UserSession lifecycle:
//
//	Created -> Active -> Refreshed (back to Active) | Invalidated | TimedOut
//
// Invalidated and TimedOut are terminal.
type SessionManager struct {
	db     *gorm.DB
	tokens *TokenService
	cfg    *config.Config
	log    *logging.Logger
	now    func() time.Time
}

func NewSessionManager(db *gorm.DB, tokens *TokenService, cfg *config.Config, log *logging.Logger) *SessionManager {
	return &SessionManager{
		db:     db,
		tokens: tokens,
		cfg:    cfg,
		log:    log.With("component", "session"),
		now:    time.Now,
	}
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// CreateSession issues a token pair for p, persists the session and logs a login.
func (m *SessionManager) CreateSession(ctx context.Context, p Principal, client ClientInfo) (*SessionTokens, error) {
	accessToken, accessExp, err := m.tokens.IssueAccessToken(p, m.cfg.AccessTTLFor(p.Role.String()))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, refreshExp, err := m.tokens.IssueRefreshToken(p.ID, m.cfg.JWT.RefreshTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := m.now()
	session := &models.UserSession{
		UserID:                p.ID,
		AccessTokenHash:       HashToken(accessToken),
		RefreshTokenHash:      HashToken(refreshToken),
		ExpiresAt:             accessExp,
		RefreshTokenExpiresAt: refreshExp,
		IsActive:              true,
		LastAccessed:          &now,
		IPAddress:             client.IPAddress,
		UserAgent:             client.UserAgent,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := m.db.WithContext(ctx).Omit("User").Create(session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.LogSessionAction(ctx, p.ID, models.ActionLogin, &session.ID, client)

	return &SessionTokens{
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// RefreshSession rotates the token pair of the session holding refreshToken.
// The previous refresh token stops working once this returns.
func (m *SessionManager) RefreshSession(ctx context.Context, refreshToken string, client ClientInfo) (*SessionTokens, error) {
	tokens, err := m.refresh(ctx, refreshToken, client)
	switch {
	case err == nil:
		metrics.SessionRefreshes.WithLabelValues("success").Inc()
	case errors.Is(err, ErrTokenExpired):
		metrics.SessionRefreshes.WithLabelValues("expired").Inc()
	case errors.Is(err, ErrInvalidSession), errors.Is(err, ErrTokenInvalid):
		metrics.SessionRefreshes.WithLabelValues("rejected").Inc()
	default:
		metrics.SessionRefreshes.WithLabelValues("error").Inc()
	}
	return tokens, err
}

func (m *SessionManager) refresh(ctx context.Context, refreshToken string, client ClientInfo) (*SessionTokens, error) {
	db := m.db.WithContext(ctx)
	oldHash := HashToken(refreshToken)

	var session models.UserSession
	if err := db.Where("refresh_token_hash = ?", oldHash).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !session.IsActive {
		return nil, ErrInvalidSession
	}

	claims, err := m.tokens.VerifyRefresh(refreshToken)
	if errors.Is(err, ErrTokenExpired) {
		if terr := m.timeOut(ctx, &session, session.RefreshTokenExpiresAt, true); terr != nil {
			m.log.Error("failed to record session timeout", "session_id", session.ID, "error", terr)
		}
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}
	if claims.Subject != session.UserID {
		return nil, ErrInvalidSession
	}

	var user models.User
	if err := db.Preload("Role").First(&user, "id = ?", session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !user.IsActive {
		if _, err := m.deactivate(ctx, session.ID); err != nil {
			m.log.Error("failed to invalidate session of inactive user", "session_id", session.ID, "error", err)
		}
		return nil, ErrInvalidSession
	}

	p := Principal{ID: user.ID, Role: user.Role.Name, Username: user.Username, Email: user.Email}
	accessToken, accessExp, err := m.tokens.IssueAccessToken(p, m.cfg.AccessTTLFor(p.Role.String()))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	newRefresh, refreshExp, err := m.tokens.IssueRefreshToken(p.ID, m.cfg.JWT.RefreshTTL.Std())
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := m.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		// The old hash in the WHERE clause makes concurrent refreshes of
		// the same token race for a single row; only one wins.
		result := tx.Model(&models.UserSession{}).
			Where("id = ? AND refresh_token_hash = ? AND is_active = ?", session.ID, oldHash, true).
			Updates(map[string]interface{}{
				"access_token_hash":        HashToken(accessToken),
				"refresh_token_hash":       HashToken(newRefresh),
				"expires_at":               accessExp,
				"refresh_token_expires_at": refreshExp,
				"last_accessed":            now,
				"updated_at":               now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrInvalidSession
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := db.First(&session, "id = ?", session.ID).Error; err != nil {
		return nil, err
	}

	m.LogSessionAction(ctx, session.UserID, models.ActionRefresh, &session.ID, client)

	return &SessionTokens{
		Session:      &session,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}

// InvalidateSession marks a session inactive. Invalidating an inactive
// session is not an error.
func (m *SessionManager) InvalidateSession(ctx context.Context, sessionID string) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	changed, err := m.deactivate(ctx, session.ID)
	if err != nil {
		return err
	}
	if changed {
		m.LogSessionAction(ctx, session.UserID, models.ActionInvalidate, &session.ID, ClientInfo{})
	}
	return nil
}

// InvalidateUserSession invalidates sessionID only if userID owns it.
func (m *SessionManager) InvalidateUserSession(ctx context.Context, userID, sessionID string, client ClientInfo) error {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}

	changed, err := m.deactivate(ctx, session.ID)
	if err != nil {
		return err
	}
	if changed {
		m.LogSessionAction(ctx, userID, models.ActionInvalidate, &session.ID, client)
	}
	return nil
}

// InvalidateByAccessToken ends the session that issued accessToken. A
// logout is logged only the first time.
func (m *SessionManager) InvalidateByAccessToken(ctx context.Context, accessToken string, client ClientInfo) (*models.UserSession, error) {
	var session models.UserSession
	err := m.db.WithContext(ctx).Where("access_token_hash = ?", HashToken(accessToken)).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	changed, err := m.deactivate(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.IsActive = false

	if changed {
		m.LogSessionAction(ctx, session.UserID, models.ActionLogout, &session.ID, client)
	}
	return &session, nil
}

// InvalidateAllForUser ends every active session of a user and returns
// how many were ended.
func (m *SessionManager) InvalidateAllForUser(ctx context.Context, userID string) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": m.now()})
	return result.RowsAffected, result.Error
}

func (m *SessionManager) deactivate(ctx context.Context, sessionID string) (bool, error) {
	result := m.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]interface{}{"is_active": false, "updated_at": m.now()})
	return result.RowsAffected > 0, result.Error
}

// RecordTimeout is called when a presented access token has expired. It
// writes one SessionTimeout per access token expiry. The session itself
// only becomes inactive once its refresh token has expired too, so the
// client can still refresh.
func (m *SessionManager) RecordTimeout(ctx context.Context, accessToken string) error {
	var session models.UserSession
	err := m.db.WithContext(ctx).Where("access_token_hash = ?", HashToken(accessToken)).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !session.IsActive {
		return nil
	}

	refreshExpired := !m.now().Before(session.RefreshTokenExpiresAt)
	return m.timeOut(ctx, &session, session.ExpiresAt, refreshExpired)
}

func (m *SessionManager) timeOut(ctx context.Context, session *models.UserSession, expiredAt time.Time, terminal bool) error {
	db := m.db.WithContext(ctx)

	recorded := true
	var last models.SessionTimeout
	if err := db.Where("session_id = ?", session.ID).Order("id desc").First(&last).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		recorded = false
	}

	if !recorded || !last.ExpiredAt.Equal(expiredAt) {
		timeout := &models.SessionTimeout{
			SessionID: session.ID,
			ExpiredAt: expiredAt,
			Reason:    models.TimeoutReasonExpired,
		}
		if err := db.Create(timeout).Error; err != nil {
			return err
		}
		metrics.SessionTimeouts.Inc()
	}

	if terminal {
		if _, err := m.deactivate(ctx, session.ID); err != nil {
			return err
		}
	}
	return nil
}

// LogSessionAction appends an audit record. Failures are logged and
// counted, never returned.
func (m *SessionManager) LogSessionAction(ctx context.Context, userID, action string, sessionID *string, client ClientInfo) {
	entry := &models.SessionLog{
		UserID:    userID,
		Action:    action,
		SessionID: sessionID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		CreatedAt: m.now(),
	}
	if err := m.db.WithContext(ctx).Create(entry).Error; err != nil {
		metrics.AuditWriteFailures.Inc()
		m.log.Warn("failed to write session log", "user_id", userID, "action", action, "error", err)
	}
}

func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (*models.UserSession, error) {
	var session models.UserSession
	if err := m.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, err
	}
	return &session, nil
}

// ListSessions returns a user's sessions, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, userID string, activeOnly bool) ([]models.UserSession, error) {
	query := m.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	sessions := []models.UserSession{}
	if err := query.Order("created_at desc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListSessionLogs returns up to limit audit entries for a user, newest first.
func (m *SessionManager) ListSessionLogs(ctx context.Context, userID string, limit int) ([]models.SessionLog, error) {
	switch {
	case limit <= 0:
		limit = 100
	case limit > 500:
		limit = 500
	}

	logs := []models.SessionLog{}
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
