package services

import (
	"strings"
	"testing"
	"time"

	"school-auth/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced time source.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenService(t *testing.T) {
	principal := Principal{
		ID:       "user-1",
		Role:     models.RoleTeacher,
		Username: "mwalimu",
		Email:    "mwalimu@school.test",
	}

	t.Run("Access token round trip before expiry", func(t *testing.T) {
		clock := newTestClock()
		svc := NewTokenService("secret", "school-auth").WithClock(clock.Now)

		token, expiresAt, err := svc.IssueAccessToken(principal, 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(15*time.Minute), expiresAt)

		clock.Advance(14 * time.Minute)
		claims, err := svc.VerifyAccess(token)
		require.NoError(t, err)
		assert.Equal(t, principal, claims.Principal())
	})

	t.Run("Access token expired after ttl", func(t *testing.T) {
		clock := newTestClock()
		svc := NewTokenService("secret", "school-auth").WithClock(clock.Now)

		token, _, err := svc.IssueAccessToken(principal, 15*time.Minute)
		require.NoError(t, err)

		clock.Advance(16 * time.Minute)
		claims, err := svc.VerifyAccess(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
		require.NotNil(t, claims)
		assert.Equal(t, "user-1", claims.Subject)
	})

	t.Run("Wrong secret is invalid", func(t *testing.T) {
		token, _, err := NewTokenService("secret", "school-auth").IssueAccessToken(principal, time.Minute)
		require.NoError(t, err)

		_, err = NewTokenService("other", "school-auth").Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Expired token with wrong secret is invalid not expired", func(t *testing.T) {
		token, _, err := NewTokenService("secret", "school-auth").IssueAccessToken(principal, -time.Minute)
		require.NoError(t, err)

		_, err = NewTokenService("other", "school-auth").Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Expired token from another issuer is invalid not expired", func(t *testing.T) {
		clock := newTestClock()
		token, _, err := NewTokenService("secret", "other-app").WithClock(clock.Now).IssueAccessToken(principal, 15*time.Minute)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		claims, err := NewTokenService("secret", "school-auth").WithClock(clock.Now).VerifyAccess(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.NotErrorIs(t, err, ErrTokenExpired)
		assert.Nil(t, claims)
	})

	t.Run("Expired token that is not yet valid is invalid", func(t *testing.T) {
		clock := newTestClock()
		claims := &Claims{
			TokenType: TokenTypeAccess,
			Role:      "teacher",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				Issuer:    "school-auth",
				NotBefore: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
				ExpiresAt: jwt.NewNumericDate(clock.Now().Add(-time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = NewTokenService("secret", "school-auth").WithClock(clock.Now).Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Corrupted token is invalid", func(t *testing.T) {
		svc := NewTokenService("secret", "school-auth")
		token, _, err := svc.IssueAccessToken(principal, time.Minute)
		require.NoError(t, err)

		parts := strings.Split(token, ".")
		parts[1] = parts[1] + "x"
		_, err = svc.Verify(strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrTokenInvalid)

		_, err = svc.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Other algorithms are rejected", func(t *testing.T) {
		claims := &Claims{
			TokenType: TokenTypeAccess,
			Role:      "admin",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				Issuer:    "school-auth",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = NewTokenService("secret", "school-auth").Verify(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Refresh token carries only the subject", func(t *testing.T) {
		svc := NewTokenService("secret", "school-auth")
		token, _, err := svc.IssueRefreshToken("user-1", time.Hour)
		require.NoError(t, err)

		claims, err := svc.VerifyRefresh(token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Empty(t, claims.Role)
		assert.Empty(t, claims.Email)

		_, err = svc.VerifyAccess(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Access token is not a refresh token", func(t *testing.T) {
		svc := NewTokenService("secret", "school-auth")
		token, _, err := svc.IssueAccessToken(principal, time.Hour)
		require.NoError(t, err)

		_, err = svc.VerifyRefresh(token)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Consecutive tokens differ", func(t *testing.T) {
		svc := NewTokenService("secret", "school-auth")
		first, _, err := svc.IssueRefreshToken("user-1", time.Hour)
		require.NoError(t, err)
		second, _, err := svc.IssueRefreshToken("user-1", time.Hour)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("Unknown role cannot be issued", func(t *testing.T) {
		svc := NewTokenService("secret", "school-auth")
		_, _, err := svc.IssueAccessToken(Principal{ID: "x", Role: "janitor"}, time.Hour)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}
