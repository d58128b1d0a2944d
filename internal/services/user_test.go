package services

import (
	"context"
	"testing"

	"school-auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	admin := createTestUser(t, env, "admin", "admin123", models.RoleAdmin)
	teacher := createTestUser(t, env, "mwalimu", "password123", models.RoleTeacher)
	createTestUser(t, env, "mwanafunzi", "password123", models.RoleStudent)

	t.Run("List and filter by role", func(t *testing.T) {
		all, err := env.users.GetUsers(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		teachers, err := env.users.GetUsers(ctx, models.RoleTeacher)
		require.NoError(t, err)
		require.Len(t, teachers, 1)
		assert.Equal(t, "mwalimu", teachers[0].Username)
	})

	t.Run("Get unknown user", func(t *testing.T) {
		_, err := env.users.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update identifiers", func(t *testing.T) {
		updated, err := env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Username: "mwalimu2", Email: "MWALIMU2@school.test"})
		require.NoError(t, err)
		assert.Equal(t, "mwalimu2", updated.Username)
		assert.Equal(t, "mwalimu2@school.test", updated.Email)

		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Username: "admin"})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Username: "admin@school.test"})
		assert.ErrorIs(t, err, ErrConflict)

		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Email: "mwanafunzi@school.test"})
		assert.ErrorIs(t, err, ErrConflict)

		// A user's own identifiers do not collide with themselves.
		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Username: "mwalimu2@school.test"})
		require.NoError(t, err)
		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Username: "mwalimu2"})
		require.NoError(t, err)

		_, err = env.users.UpdateUser(ctx, teacher.ID, UpdateUserInput{Role: "janitor"})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("Change password", func(t *testing.T) {
		err := env.users.ChangePassword(ctx, teacher.ID, "wrong", "newpass456", ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)

		require.NoError(t, env.users.ChangePassword(ctx, teacher.ID, "password123", "newpass456", ClientInfo{}))
		_, err = env.auth.Login(ctx, "mwalimu2", "newpass456", ClientInfo{})
		assert.NoError(t, err)
	})

	t.Run("Last admin is protected", func(t *testing.T) {
		assert.ErrorIs(t, env.users.DeactivateUser(ctx, admin.ID), ErrConflict)

		_, err := env.users.UpdateUser(ctx, admin.ID, UpdateUserInput{Role: "teacher"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("Deactivate ends sessions and keeps the row", func(t *testing.T) {
		result, err := env.auth.Login(ctx, "mwalimu2", "newpass456", ClientInfo{})
		require.NoError(t, err)

		require.NoError(t, env.users.DeactivateUser(ctx, teacher.ID))
		require.NoError(t, env.users.DeactivateUser(ctx, teacher.ID))

		user, err := env.users.GetUser(ctx, teacher.ID)
		require.NoError(t, err)
		assert.False(t, user.IsActive)

		sessions, err := env.users.GetSessions(ctx, teacher.ID, true)
		require.NoError(t, err)
		assert.Empty(t, sessions)

		_, err = env.sessions.RefreshSession(ctx, result.RefreshToken, ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidSession)

		_, err = env.auth.Login(ctx, "mwalimu2", "newpass456", ClientInfo{})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
