package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"school-auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	perms map[models.RoleName][]string
	err   error
	calls int
}

func (r *stubResolver) PermissionNamesForRole(ctx context.Context, role models.RoleName) ([]string, error) {
	r.calls++
	return r.perms[role], r.err
}

func TestGuardAuthenticate(t *testing.T) {
	clock := newTestClock()
	tokens := NewTokenService("secret", "school-auth").WithClock(clock.Now)
	guard := NewGuard(tokens, &stubResolver{})

	principal := Principal{ID: "u1", Role: models.RoleTeacher, Username: "mwalimu", Email: "m@school.test"}
	token, _, err := tokens.IssueAccessToken(principal, 15*time.Minute)
	require.NoError(t, err)

	t.Run("Valid bearer", func(t *testing.T) {
		p, err := guard.Authenticate("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, principal, *p)
	})

	t.Run("Missing or malformed header", func(t *testing.T) {
		for _, header := range []string{"", "Bearer", "Token " + token, "Bearer a b"} {
			_, err := guard.Authenticate(header)
			assert.ErrorIs(t, err, ErrNoToken, header)
		}
	})

	t.Run("Invalid token", func(t *testing.T) {
		_, err := guard.Authenticate("Bearer not.a.token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Refresh token is not accepted", func(t *testing.T) {
		refresh, _, err := tokens.IssueRefreshToken("u1", time.Hour)
		require.NoError(t, err)
		_, err = guard.Authenticate("Bearer " + refresh)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("Expired token", func(t *testing.T) {
		clock.Advance(16 * time.Minute)
		_, err := guard.Authenticate("Bearer " + token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestGuardAuthorize(t *testing.T) {
	guard := NewGuard(NewTokenService("secret", "school-auth"), &stubResolver{})

	admin := &Principal{ID: "a", Role: models.RoleAdmin}
	teacher := &Principal{ID: "t", Role: models.RoleTeacher}

	policies := []Policy{
		AnyOf(models.RoleStudent),
		AnyOf(models.RoleFinance, models.RoleParent),
		AllOf(models.RoleLibraryStaff),
		AllOf(models.RoleTeacher, models.RoleStudent),
		{},
	}

	t.Run("Admin passes every policy", func(t *testing.T) {
		for _, policy := range policies {
			assert.NoError(t, guard.Authorize(admin, policy))
		}
	})

	t.Run("Any", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(teacher, AnyOf(models.RoleStudent, models.RoleTeacher)))

		err := guard.Authorize(teacher, AnyOf(models.RoleStudent, models.RoleParent))
		assert.ErrorIs(t, err, ErrForbidden)

		var denied *RoleDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, []string{"student", "parent"}, denied.Required)
		assert.Equal(t, "teacher", denied.Actual)
		assert.Equal(t, ModeAny, denied.Mode)
	})

	t.Run("All", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(teacher, AllOf(models.RoleTeacher)))
		assert.NoError(t, guard.Authorize(teacher, AllOf(models.RoleTeacher, models.RoleTeacher)))
		assert.ErrorIs(t, guard.Authorize(teacher, AllOf(models.RoleTeacher, models.RoleStudent)), ErrForbidden)
	})

	t.Run("Empty policy admits any principal", func(t *testing.T) {
		assert.NoError(t, guard.Authorize(teacher, Policy{}))
		assert.NoError(t, guard.Authorize(teacher, Policy{Mode: ModeAll}))
	})
}

func TestGuardCheck(t *testing.T) {
	tokens := NewTokenService("secret", "school-auth")
	guard := NewGuard(tokens, &stubResolver{})

	token, _, err := tokens.IssueAccessToken(Principal{ID: "s", Role: models.RoleStudent}, time.Hour)
	require.NoError(t, err)

	p, err := guard.Check("Bearer "+token, AnyOf(models.RoleStudent))
	require.NoError(t, err)
	assert.Equal(t, "s", p.ID)

	_, err = guard.Check("Bearer "+token, AnyOf(models.RoleTeacher))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGuardAuthorizePermission(t *testing.T) {
	ctx := context.Background()
	resolver := &stubResolver{perms: map[models.RoleName][]string{
		models.RoleTeacher: {"attendance:mark", "grade:edit"},
	}}
	guard := NewGuard(NewTokenService("secret", "school-auth"), resolver)

	t.Run("Granted", func(t *testing.T) {
		assert.NoError(t, guard.AuthorizePermission(ctx, &Principal{Role: models.RoleTeacher}, "grade:edit"))
	})

	t.Run("Missing", func(t *testing.T) {
		err := guard.AuthorizePermission(ctx, &Principal{Role: models.RoleStudent}, "grade:edit")
		assert.ErrorIs(t, err, ErrForbidden)

		var denied *PermissionDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, "grade:edit", denied.Permission)
	})

	t.Run("Admin skips the resolver", func(t *testing.T) {
		before := resolver.calls
		assert.NoError(t, guard.AuthorizePermission(ctx, &Principal{Role: models.RoleAdmin}, "anything"))
		assert.Equal(t, before, resolver.calls)
	})

	t.Run("Resolver errors propagate", func(t *testing.T) {
		failing := NewGuard(NewTokenService("secret", "school-auth"), &stubResolver{err: errors.New("db down")})
		err := failing.AuthorizePermission(ctx, &Principal{Role: models.RoleTeacher}, "grade:edit")
		assert.EqualError(t, err, "db down")
	})

	t.Run("Against the RBAC store", func(t *testing.T) {
		env := newTestEnv(t)
		perm, err := env.rbac.CreatePermission(ctx, PermissionInput{Name: "books:lend"})
		require.NoError(t, err)
		librarian, err := env.rbac.GetRoleByName(ctx, models.RoleLibraryStaff)
		require.NoError(t, err)
		require.NoError(t, env.rbac.AddPermissionsToRole(ctx, librarian.ID, []uint{perm.ID}))

		storeGuard := NewGuard(env.tokens, env.rbac)
		assert.NoError(t, storeGuard.AuthorizePermission(ctx, &Principal{Role: models.RoleLibraryStaff}, "books:lend"))
		assert.ErrorIs(t, storeGuard.AuthorizePermission(ctx, &Principal{Role: models.RoleFinance}, "books:lend"), ErrForbidden)
	})
}
