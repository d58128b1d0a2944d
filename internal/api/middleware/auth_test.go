package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"school-auth/internal/logging"
	"school-auth/internal/models"
	"school-auth/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

type fakeTimeouts struct {
	tokens []string
	err    error
}

func (f *fakeTimeouts) RecordTimeout(ctx context.Context, accessToken string) error {
	f.tokens = append(f.tokens, accessToken)
	return f.err
}

type fakeResolver map[models.RoleName][]string

func (r fakeResolver) PermissionNamesForRole(ctx context.Context, role models.RoleName) ([]string, error) {
	return r[role], nil
}

func issue(t *testing.T, role models.RoleName, now time.Time) string {
	t.Helper()
	tokens := services.NewTokenService(testSecret, "school-auth").WithClock(func() time.Time { return now })
	token, _, err := tokens.IssueAccessToken(services.Principal{ID: "u-1", Role: role, Username: "u1"}, 15*time.Minute)
	require.NoError(t, err)
	return token
}

func setupRouter(timeouts TimeoutRecorder, resolver services.PermissionResolver, extra ...func(*services.Guard) gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	guard := services.NewGuard(services.NewTokenService(testSecret, "school-auth"), resolver)

	r := gin.New()
	handlers := []gin.HandlerFunc{AuthMiddleware(guard, timeouts, logging.Discard())}
	for _, h := range extra {
		handlers = append(handlers, h(guard))
	}
	handlers = append(handlers, func(c *gin.Context) {
		principal, _ := CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"role": principal.Role, "token": AccessToken(c)})
	})
	r.GET("/protected", handlers...)
	return r
}

func get(r *gin.Engine, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req, _ := http.NewRequest("GET", "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("valid token sets principal", func(t *testing.T) {
		timeouts := &fakeTimeouts{}
		r := setupRouter(timeouts, fakeResolver{})
		token := issue(t, models.RoleTeacher, time.Now())

		w, body := get(r, token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "teacher", body["role"])
		assert.Equal(t, token, body["token"])
		assert.Empty(t, timeouts.tokens)
	})

	t.Run("missing token", func(t *testing.T) {
		w, body := get(setupRouter(nil, fakeResolver{}), "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "No token provided", body["error"])
	})

	t.Run("malformed header", func(t *testing.T) {
		r := setupRouter(nil, fakeResolver{})
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		timeouts := &fakeTimeouts{}
		w, body := get(setupRouter(timeouts, fakeResolver{}), "not-a-jwt")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "token_invalid", body["code"])
		assert.Empty(t, timeouts.tokens)
	})

	t.Run("expired token is recorded", func(t *testing.T) {
		timeouts := &fakeTimeouts{}
		token := issue(t, models.RoleStudent, time.Now().Add(-time.Hour))

		w, body := get(setupRouter(timeouts, fakeResolver{}), token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "token_expired", body["code"])
		assert.Equal(t, []string{token}, timeouts.tokens)
	})

	t.Run("recorder failure keeps the expiry response", func(t *testing.T) {
		timeouts := &fakeTimeouts{err: errors.New("db down")}
		token := issue(t, models.RoleStudent, time.Now().Add(-time.Hour))

		w, _ := get(setupRouter(timeouts, fakeResolver{}), token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	anyTeacher := func(g *services.Guard) gin.HandlerFunc { return RequireAnyRole(g, models.RoleTeacher, models.RoleFinance) }

	t.Run("listed role passes", func(t *testing.T) {
		w, _ := get(setupRouter(nil, fakeResolver{}, anyTeacher), issue(t, models.RoleFinance, time.Now()))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("admin bypasses", func(t *testing.T) {
		w, _ := get(setupRouter(nil, fakeResolver{}, anyTeacher), issue(t, models.RoleAdmin, time.Now()))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("other role is denied with disclosure", func(t *testing.T) {
		w, body := get(setupRouter(nil, fakeResolver{}, anyTeacher), issue(t, models.RoleParent, time.Now()))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, []interface{}{"teacher", "finance"}, body["required_roles"])
		assert.Equal(t, "parent", body["actual_role"])
		assert.Equal(t, "any", body["mode"])
	})

	t.Run("without principal", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		guard := services.NewGuard(services.NewTokenService(testSecret, "school-auth"), fakeResolver{})
		r := gin.New()
		r.GET("/protected", RequireAnyRole(guard, models.RoleTeacher), func(c *gin.Context) { c.Status(http.StatusOK) })

		w, _ := get(r, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequirePermission(t *testing.T) {
	resolver := fakeResolver{models.RoleLibraryStaff: {"books:lend"}}
	lend := func(g *services.Guard) gin.HandlerFunc { return RequirePermission(g, "books:lend") }

	w, _ := get(setupRouter(nil, resolver, lend), issue(t, models.RoleLibraryStaff, time.Now()))
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := get(setupRouter(nil, resolver, lend), issue(t, models.RoleStudent, time.Now()))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "books:lend", body["permission"])
	assert.Equal(t, "student", body["role"])

	w, _ = get(setupRouter(nil, resolver, lend), issue(t, models.RoleAdmin, time.Now()))
	assert.Equal(t, http.StatusOK, w.Code)
}
